package storage

import "github.com/sirupsen/logrus"

// Option configures a File at construction time, following the same
// interface-based pattern as the rest of the corpus's db.Option.
type Option interface {
	apply(*File)
}

// OptionFunc adapts a plain function to Option.
type OptionFunc func(*File)

func (f OptionFunc) apply(file *File) {
	f(file)
}

// WithLogger overrides the logger used for the single warn-level emission
// on Synch failure. Defaults to logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return OptionFunc(func(f *File) {
		f.log = log
	})
}

// WithHeaderSize overrides the header size (DefaultHeaderSize) for tests. Production callers should
// leave this at the default.
func WithHeaderSize(n int64) Option {
	return OptionFunc(func(f *File) {
		f.headerSize = n
	})
}

// WithAllocationThreshold overrides the allocation threshold
// (DefaultAllocationThreshold) for tests.
func WithAllocationThreshold(n int64) Option {
	return OptionFunc(func(f *File) {
		f.allocationThreshold = n
	})
}

// WithWorkerPoolSize sets the number of goroutines servicing the file's
// asyncio.Pool. Defaults to asyncio.DefaultWorkers.
func WithWorkerPoolSize(n int) Option {
	return OptionFunc(func(f *File) {
		f.workers = n
	})
}
