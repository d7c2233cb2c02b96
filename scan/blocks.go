package scan

import "math/bits"

// DefaultBlockSize is the number of elements one superstep scans jointly.
const DefaultBlockSize = 256

// PaddedLen returns the smallest multiple of blockSize that is >= n.
func PaddedLen(n, blockSize int) int {
	return BlockCount(n, blockSize) * blockSize
}

// BlockCount returns ceil(n / blockSize).
func BlockCount(n, blockSize int) int {
	if n <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

// Levels returns how many block-scan levels a sequence of n elements needs:
// ceil(log_blockSize(n)), with 1 for any 0 < n <= blockSize.
func Levels(n, blockSize int) int {
	if n <= 0 {
		return 0
	}
	levels := 1
	for blocks := BlockCount(n, blockSize); blocks > 1; blocks = BlockCount(blocks, blockSize) {
		levels++
	}
	return levels
}

// BlockOffsets turns the inclusive scan of block totals into per-block
// offsets: offsets[0] = 0 and offsets[i] = inclusive[i-1].
// This is the exclusive prefix sum of the totals.
func BlockOffsets(inclusive []float64) []float64 {
	offsets := make([]float64, len(inclusive))
	if len(inclusive) > 1 {
		copy(offsets[1:], inclusive[:len(inclusive)-1])
	}
	return offsets
}

// Naive computes the inclusive prefix sum left to right.
func Naive(input []float64) []float64 {
	out := make([]float64, len(input))
	var acc float64
	for i, v := range input {
		acc += v
		out[i] = acc
	}
	return out
}

// validBlockSize accepts powers of two from 2 up to max. A block of one
// element would never shrink the next level.
func validBlockSize(blockSize, max int) bool {
	if blockSize < 2 || bits.OnesCount(uint(blockSize)) != 1 {
		return false
	}
	return max == 0 || blockSize <= max
}
