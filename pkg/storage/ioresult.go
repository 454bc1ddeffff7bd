package storage

import "golang.org/x/sync/errgroup"

// Pair is a single (offset, buffer) entry of a WriteBatch submission.
// Callers must not submit overlapping offset ranges within one batch; the
// core makes no attempt to detect or serialize against that.
type Pair struct {
	Offset int64
	Buffer []byte
}

// IOResult is a joinable handle for a batched submission. It is the Go
// analogue of the original's CountDownLatch-backed IOResult: Await blocks
// until every pair in the batch has completed and returns the first
// failure observed across pairs, via an errgroup.Group. No ordering between
// pairs is guaranteed; only per-pair completion order (a single pair's
// retried writes complete in offset order) is guaranteed.
type IOResult struct {
	g errgroup.Group
}

// Await blocks until the whole batch has completed, then returns the first
// failure recorded by any pair, if any.
func (r *IOResult) Await() error {
	return r.g.Wait()
}

// track registers one pending pair completion with the group, returning the
// callback dispatchWrite should invoke exactly once when that pair finishes.
func (r *IOResult) track() func(error) {
	done := make(chan error, 1)
	r.g.Go(func() error { return <-done })
	return func(err error) { done <- err }
}
