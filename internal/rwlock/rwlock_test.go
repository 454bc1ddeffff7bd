package rwlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipleReadersConcurrent(t *testing.T) {
	l := New()
	var active, maxActive int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RLock()
			defer l.RUnlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Greater(t, maxActive, int32(1), "expected overlapping readers")
}

func TestExclusiveExcludesReaders(t *testing.T) {
	l := New()
	l.Lock()

	done := make(chan struct{})
	go func() {
		l.RLock()
		l.RUnlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}

	l.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released it")
	}
}

func TestNewReaderNotBlockedByPendingWriter(t *testing.T) {
	l := New()
	l.RLock()

	writerBlocked := make(chan struct{})
	go func() {
		l.Lock()
		defer l.Unlock()
		close(writerBlocked)
	}()

	// Give the writer goroutine a chance to start waiting.
	time.Sleep(20 * time.Millisecond)

	readerAcquired := make(chan struct{})
	releaseReader := make(chan struct{})
	go func() {
		l.RLock()
		close(readerAcquired)
		<-releaseReader
		l.RUnlock()
	}()

	select {
	case <-readerAcquired:
	case <-time.After(time.Second):
		t.Fatal("new reader blocked behind pending writer")
	}

	// Release both the original reader and the one that joined afterward;
	// only then can the waiting writer proceed.
	close(releaseReader)
	l.RUnlock()

	select {
	case <-writerBlocked:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired lock")
	}
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	l := New()
	require.Panics(t, func() { l.Unlock() })
}

func TestRUnlockWithoutRLockPanics(t *testing.T) {
	l := New()
	require.Panics(t, func() { l.RUnlock() })
}
