package scan

import "errors"

var (
	// ErrBlockSize is returned for a block size that is not a power of two
	// or exceeds what the backend can scan in one superstep.
	ErrBlockSize = errors.New("scan: invalid block size")

	// ErrForeignBuffer is returned when a backend is handed a buffer it did
	// not allocate (or one that was already freed).
	ErrForeignBuffer = errors.New("scan: buffer not owned by backend")

	// ErrLength is returned when buffer lengths violate a launch contract.
	ErrLength = errors.New("scan: buffer length mismatch")
)
