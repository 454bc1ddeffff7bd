// Package wal is a thin illustration of the kind of collaborator that
// layers on top of storage.File: it stores appended records in a single
// AsyncFile, without implementing any recovery protocol, record framing,
// or manifest integration. Those remain out of scope for the storage core
// (see pkg/storage's package doc) and are not attempted here; this package
// exists only to exercise storage.File's allocate/write/synch path the way
// a real write-ahead log would.
package wal

import (
	"context"

	"github.com/knuthelgesen/orientdb/pkg/storage"
)

// WAL appends arbitrary byte records to a single backing AsyncFile. Once a
// memtable has been flushed and its WAL is no longer needed, Close should
// be called; removing the backing file from disk is left to the caller
// (the manifest, in the enclosing engine).
type WAL struct {
	file *storage.File
}

// New creates (or opens, if it already exists) the backing file at path
// and returns a WAL ready to append records.
func New(ctx context.Context, path string, opts ...storage.Option) (*WAL, error) {
	f := storage.New(path, opts...)

	if f.Exists() {
		if err := f.Open(ctx); err != nil {
			return nil, err
		}
	} else if err := f.Create(ctx); err != nil {
		return nil, err
	}

	return &WAL{file: f}, nil
}

// Append allocates space for record and writes it, returning the logical
// offset it was written at.
func (w *WAL) Append(ctx context.Context, record []byte) (int64, error) {
	offset, err := w.file.AllocateSpace(ctx, int64(len(record)))
	if err != nil {
		return 0, err
	}
	if err := w.file.Write(ctx, offset, record); err != nil {
		return 0, err
	}
	return offset, nil
}

// Flush coalesces pending writes into a single fsync.
func (w *WAL) Flush() error {
	w.file.Synch()
	return nil
}

// Close tears down the backing file.
func (w *WAL) Close() error {
	return w.file.Close()
}
