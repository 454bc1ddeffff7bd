package asyncio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	pool, err := Open(path, os.O_CREATE|os.O_RDWR, 0644, 2, logrus.StandardLogger())
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	payload := []byte("hello async world")

	res := <-pool.WriteAt(ctx, payload, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, len(payload), res.N)

	buf := make([]byte, len(payload))
	res = <-pool.ReadAt(ctx, buf, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, payload, buf)
}

func TestConcurrentDispatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	pool, err := Open(path, os.O_CREATE|os.O_RDWR, 0644, 4, logrus.StandardLogger())
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	const n = 32
	results := make([]<-chan Result, n)
	for i := 0; i < n; i++ {
		results[i] = pool.WriteAt(ctx, []byte{byte(i)}, int64(i))
	}
	for i := 0; i < n; i++ {
		res := <-results[i]
		require.NoError(t, res.Err)
		assert.Equal(t, 1, res.N)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	pool, err := Open(path, os.O_CREATE|os.O_RDWR, 0644, 1, logrus.StandardLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
}
