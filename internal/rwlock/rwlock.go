// Package rwlock provides a reader-preferring shared/exclusive lock.
//
// Go's sync.RWMutex is writer-preferring: once a writer is waiting, new
// readers block behind it so writers cannot starve. That is the wrong
// default for a lock that is reacquired from inside an I/O completion
// callback (see internal/asyncio), because a writer that is waiting for
// the active readers to drain can itself be waiting on one of those
// readers' completion callback to run its continuation. A writer-
// preferring lock would block that continuation's RLock behind the
// still-pending writer and deadlock. RWLock never blocks a new shared
// acquirer on account of a waiting exclusive acquirer.
package rwlock

import "sync"

// RWLock is a many-shared or one-exclusive lock. Unlike sync.RWMutex it is
// reader-preferring: a pending Lock never prevents a new RLock from being
// granted while any readers are active. Exclusive acquirers can therefore
// starve under sustained read load; callers that need a hard upper bound on
// exclusive-acquisition latency should pair RWLock with an external drain
// mechanism (see storage.File, which tracks in-flight batches separately).
type RWLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
}

// New constructs a ready-to-use RWLock.
func New() *RWLock {
	l := &RWLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RLock acquires the lock for shared access. It blocks only while a writer
// currently holds the lock.
func (l *RWLock) RLock() {
	l.mu.Lock()
	for l.writer {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// RUnlock releases a shared hold acquired by RLock.
func (l *RWLock) RUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers < 0 {
		panic("rwlock: RUnlock without matching RLock")
	}
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Lock acquires the lock for exclusive access. It blocks until there are no
// active readers and no other active writer.
func (l *RWLock) Lock() {
	l.mu.Lock()
	for l.writer || l.readers > 0 {
		l.cond.Wait()
	}
	l.writer = true
	l.mu.Unlock()
}

// Unlock releases an exclusive hold acquired by Lock.
func (l *RWLock) Unlock() {
	l.mu.Lock()
	if !l.writer {
		panic("rwlock: Unlock without matching Lock")
	}
	l.writer = false
	l.mu.Unlock()
	l.cond.Broadcast()
}
