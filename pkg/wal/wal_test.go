package wal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFlushClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "000001.wal")

	w, err := New(ctx, path)
	require.NoError(t, err)

	off1, err := w.Append(ctx, []byte("first record"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), off1)

	off2, err := w.Append(ctx, []byte("second record!"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("first record")), off2)

	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
}

func TestReopenExistingLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "000002.wal")

	w, err := New(ctx, path)
	require.NoError(t, err)
	_, err = w.Append(ctx, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := New(ctx, path)
	require.NoError(t, err)
	defer w2.Close()

	off, err := w2.Append(ctx, []byte("def"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), off)
}
