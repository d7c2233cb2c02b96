package scan

// Buffer is a backend-owned, fixed-length array of reals. Callers never look
// inside it; they only pass it back to the backend that allocated it.
type Buffer interface {
	Len() int
}

// Backend defines the compute operations a Scanner needs.
// This abstraction allows swapping implementations (CPU reference, WebGPU)
// without changing the orchestration code.
//
// Every launch (ScanBlocks, AddBlocks) behaves as an ordered barrier: when it
// returns, its writes are visible to any later Read or launch.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// MaxBlockSize is the largest block a single superstep can scan.
	// Zero means unlimited.
	MaxBlockSize() int

	// Alloc creates a zero-filled buffer of n elements.
	Alloc(n int) (Buffer, error)

	// Write copies src into the head of dst. len(src) must not exceed dst.Len().
	Write(dst Buffer, src []float64) error

	// Read copies the head of src into dst. len(dst) must not exceed src.Len().
	Read(src Buffer, dst []float64) error

	// ScanBlocks computes a block-local inclusive scan of in into out and
	// stores each block's total in totals[block].
	// in.Len() == out.Len() must be a multiple of blockSize and
	// totals.Len() must be at least in.Len()/blockSize.
	ScanBlocks(in, out, totals Buffer, blockSize int) error

	// AddBlocks folds offsets into data: for every block b >= 1,
	// data[b*blockSize+j] += scanned[b-1]. Block 0 is left untouched.
	// scanned holds the inclusive scan of the block totals, so scanned[b-1]
	// is the exclusive offset of block b.
	AddBlocks(data, scanned Buffer, blockSize int) error

	// Free releases a buffer. Freeing nil or an already freed buffer is a no-op.
	Free(b Buffer)
}
