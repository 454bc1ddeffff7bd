package storage

import "errors"

// Sentinel errors matching the StateError/RangeError/EofError taxonomy of
// the original storage core. IoError has no sentinel: it is any wrapped
// filesystem or async-channel failure, produced with fmt.Errorf("%w", ...)
// at the point of failure so callers can still errors.Is/As through to the
// underlying cause.
var (
	// ErrAlreadyOpen is returned by Create/Open when the file's channel is
	// already open.
	ErrAlreadyOpen = errors.New("storage: file is already open")

	// ErrClosed is returned by any data-plane or lifecycle operation that
	// requires an open channel.
	ErrClosed = errors.New("storage: file is closed")

	// ErrOutOfRange is returned when an offset falls outside [0, Size()).
	ErrOutOfRange = errors.New("storage: offset out of range")

	// ErrEOF is returned by Read when throwOnEOF is true and the channel
	// reports end-of-file before buf is filled.
	ErrEOF = errors.New("storage: unexpected end of file")
)
