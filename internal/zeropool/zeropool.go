// Package zeropool hands out scoped, zero-filled buffers for physically
// pre-zeroing disk extents. The original storage core used an off-heap
// native allocation (JNA Native.malloc, explicitly zeroed) rather than a
// JVM heap buffer, to keep large, infrequent allocations off the garbage
// collector. Go's make([]byte, n) is always zero-filled, so the
// correctness requirement is trivially met by the heap — but the GC-
// pressure concern it was working around is still real for the
// multi-megabyte buffers allocate_space can request, so a Buffer here is
// backed by an anonymous OS mapping (internal/mmap) rather than the heap
// whenever one is available, falling back to a heap slice only if the
// mapping syscall fails.
package zeropool

import (
	"fmt"
	"math"

	"github.com/knuthelgesen/orientdb/internal/mmap"
)

// MaxChunkBytes bounds a single physical zero-fill write, mirroring the
// original's partitioning of a zero-fill range into Integer.MAX_VALUE-sized
// chunks.
const MaxChunkBytes = math.MaxInt32

// Buffer is a zero-filled region scoped to a single zero-fill call. Callers
// must call Release exactly once when done; the lifetime must not extend
// past the call that acquired it.
type Buffer struct {
	full   []byte
	used   []byte
	mapped bool
}

// Acquire returns a Buffer whose Bytes() is exactly n zero bytes. n must be
// in (0, MaxChunkBytes].
func Acquire(n int) (*Buffer, error) {
	if n <= 0 || n > MaxChunkBytes {
		return nil, fmt.Errorf("zeropool: invalid chunk size %d", n)
	}

	full, err := mmap.New(n)
	if err != nil {
		// Fall back to a heap allocation; make() is already zero-filled.
		return &Buffer{full: make([]byte, n), used: nil, mapped: false}, nil
	}

	b := &Buffer{full: full, mapped: true}
	b.used = full[:n]
	return b, nil
}

// Bytes returns the zero-filled region. It must not be retained past Release.
func (b *Buffer) Bytes() []byte {
	if b.used != nil {
		return b.used
	}
	return b.full
}

// Release returns the buffer's backing memory. After Release, Bytes must not
// be called again.
func (b *Buffer) Release() error {
	if !b.mapped {
		return nil
	}
	return mmap.Free(b.full)
}

// ChunkSize returns the size of the next write chunk for a zero-fill range
// of total bytes, capped at MaxChunkBytes.
func ChunkSize(total int64) int {
	if total > MaxChunkBytes {
		return MaxChunkBytes
	}
	return int(total)
}
