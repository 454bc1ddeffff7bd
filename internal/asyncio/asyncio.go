// Package asyncio provides a positional-I/O channel whose reads and writes
// complete asynchronously, the Go analogue of java.nio's
// AsynchronousFileChannel used by the original storage core. Completions are
// delivered on a per-call channel instead of a Future/CompletionHandler pair,
// which callers drain with a plain receive instead of a blocking get().
//
// The channel is backed by a fixed-size worker pool of goroutines performing
// blocking os.File.ReadAt/WriteAt, the "thread-pool wrapping blocking
// positional I/O" strategy. A context.Context that is already canceled when
// a worker picks up the job surfaces as a Result.Err rather than an
// interrupted-thread exception; a cancellation that arrives while the
// blocking ReadAt/WriteAt is running does not interrupt it.
package asyncio

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a single dispatched read or write.
type Result struct {
	N   int
	Err error
}

// Channel is a handle to an open file capable of async positional I/O.
type Channel interface {
	ReadAt(ctx context.Context, p []byte, off int64) <-chan Result
	WriteAt(ctx context.Context, p []byte, off int64) <-chan Result
	Sync() error
	Truncate(size int64) error
	Close() error
}

type opKind uint8

const (
	opRead opKind = iota
	opWrite
)

type job struct {
	kind   opKind
	ctx    context.Context
	buf    []byte
	off    int64
	result chan Result
	id     string
}

// DefaultWorkers is used when Open is not given an explicit pool size.
const DefaultWorkers = 4

// Pool is a Channel backed by a bounded pool of worker goroutines, each
// performing blocking positional reads/writes against a single *os.File.
type Pool struct {
	file *os.File
	jobs chan job
	wg   sync.WaitGroup
	log  logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*Pool)(nil)

// Open opens path with flag/perm and starts workers goroutines servicing it.
// If workers <= 0, DefaultWorkers is used.
func Open(path string, flag int, perm os.FileMode, workers int, log logrus.FieldLogger) (*Pool, error) {
	file, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("asyncio: open %s: %w", path, err)
	}
	return newPool(file, workers, log), nil
}

func newPool(file *os.File, workers int, log logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		file: file,
		jobs: make(chan job, workers),
		log:  log,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.result <- Result{Err: fmt.Errorf("asyncio: %s: %w", j.id, err)}
			continue
		}

		var n int
		var err error
		switch j.kind {
		case opRead:
			n, err = p.file.ReadAt(j.buf, j.off)
		case opWrite:
			n, err = p.file.WriteAt(j.buf, j.off)
		}

		p.log.WithFields(logrus.Fields{
			"op":     j.kind,
			"offset": j.off,
			"bytes":  n,
			"id":     j.id,
		}).Debug("asyncio: dispatch completed")

		j.result <- Result{N: n, Err: err}
	}
}

func (p *Pool) dispatch(ctx context.Context, kind opKind, buf []byte, off int64) <-chan Result {
	result := make(chan Result, 1)
	j := job{kind: kind, ctx: ctx, buf: buf, off: off, result: result, id: uuid.New().String()}
	p.jobs <- j
	return result
}

// ReadAt dispatches a positional read and returns a channel that receives
// exactly one Result.
func (p *Pool) ReadAt(ctx context.Context, buf []byte, off int64) <-chan Result {
	return p.dispatch(ctx, opRead, buf, off)
}

// WriteAt dispatches a positional write and returns a channel that receives
// exactly one Result.
func (p *Pool) WriteAt(ctx context.Context, buf []byte, off int64) <-chan Result {
	return p.dispatch(ctx, opWrite, buf, off)
}

// Sync flushes the backing file's data and metadata to stable storage
// (os.File.Sync).
func (p *Pool) Sync() error {
	return p.file.Sync()
}

// Truncate changes the size of the backing file.
func (p *Pool) Truncate(size int64) error {
	return p.file.Truncate(size)
}

// Close stops accepting new work, drains in-flight dispatches, and closes
// the backing file. It is safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		p.closeErr = p.file.Close()
	})
	return p.closeErr
}
