package scan

import (
	"fmt"
)

// Scanner composes bounded block scans into a scan of any length.
//
// A sequence is padded to whole blocks and scanned block-locally. The block
// totals are then scanned the same way, level after level, until a level
// fits in a single block. Walking back down, each level's scanned totals
// are folded into the level below as per-block offsets.
//
// The levels are kept on an explicit stack instead of the call stack, and
// every level owns the buffers it allocates; a level is released as soon as
// its parent has consumed its offsets.
type Scanner struct {
	backend   Backend
	blockSize int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBlockSize overrides DefaultBlockSize. The size must be a power of two
// and must not exceed the backend's MaxBlockSize.
func WithBlockSize(n int) Option {
	return func(s *Scanner) {
		s.blockSize = n
	}
}

// NewScanner creates a Scanner running on the given backend.
func NewScanner(b Backend, opts ...Option) (*Scanner, error) {
	s := &Scanner{backend: b, blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(s)
	}
	if !validBlockSize(s.blockSize, b.MaxBlockSize()) {
		return nil, fmt.Errorf("block size %d on %s (max %d): %w",
			s.blockSize, b.Name(), b.MaxBlockSize(), ErrBlockSize)
	}
	return s, nil
}

// BlockSize returns the number of elements scanned per superstep.
func (s *Scanner) BlockSize() int { return s.blockSize }

// Backend returns the backend the scanner launches on.
func (s *Scanner) Backend() Backend { return s.backend }

// level is one rung of the decomposition. in is borrowed from the level
// above it (or the uploaded input at the root); out and totals are owned.
type level struct {
	n      int
	padded int
	blocks int
	in     Buffer
	out    Buffer
	totals Buffer
	arena  arena
}

// arena tracks the buffers of one level so they can be freed together.
type arena struct {
	backend Backend
	bufs    []Buffer
}

func (a *arena) alloc(n int) (Buffer, error) {
	b, err := a.backend.Alloc(n)
	if err != nil {
		return nil, err
	}
	a.bufs = append(a.bufs, b)
	return b, nil
}

func (a *arena) release() {
	for _, b := range a.bufs {
		a.backend.Free(b)
	}
	a.bufs = nil
}

// Scan returns the inclusive prefix sum of input: out[i] = input[0] + ... + input[i].
// Within a block values are combined in doubling-tree order, so the low bits
// may differ from a left-to-right sum.
func (s *Scanner) Scan(input []float64) ([]float64, error) {
	if len(input) == 0 {
		return []float64{}, nil
	}

	stack, err := s.sweepUp(input)
	defer func() {
		for i := range stack {
			stack[i].arena.release()
		}
	}()
	if err != nil {
		return nil, err
	}

	if err := s.sweepDown(stack); err != nil {
		return nil, err
	}

	root := &stack[0]
	out := make([]float64, root.n)
	if err := s.backend.Read(root.out, out); err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return out, nil
}

// ScanExclusive returns the exclusive prefix sum of input:
// out[0] = 0 and out[i] = input[0] + ... + input[i-1].
func (s *Scanner) ScanExclusive(input []float64) ([]float64, error) {
	inclusive, err := s.Scan(input)
	if err != nil {
		return nil, err
	}
	return BlockOffsets(inclusive), nil
}

// sweepUp uploads the input and scans every level until one block remains.
// The returned stack is non-nil even on error so the caller can release it.
func (s *Scanner) sweepUp(input []float64) ([]level, error) {
	b := s.blockSize
	stack := make([]level, 0, Levels(len(input), b))

	root := level{
		n:      len(input),
		padded: PaddedLen(len(input), b),
		blocks: BlockCount(len(input), b),
		arena:  arena{backend: s.backend},
	}
	in, err := root.arena.alloc(root.padded)
	if err != nil {
		return append(stack, root), fmt.Errorf("alloc input: %w", err)
	}
	root.in = in
	if err := s.backend.Write(in, input); err != nil {
		return append(stack, root), fmt.Errorf("write input: %w", err)
	}

	cur := root
	for depth := 0; ; depth++ {
		// Totals are sized as the next level's padded input so they can be
		// scanned without a copy. The tail stays zero.
		totalsLen := 1
		if cur.blocks > 1 {
			totalsLen = PaddedLen(cur.blocks, b)
		}
		if cur.out, err = cur.arena.alloc(cur.padded); err == nil {
			cur.totals, err = cur.arena.alloc(totalsLen)
		}
		if err != nil {
			return append(stack, cur), fmt.Errorf("level %d alloc: %w", depth, err)
		}

		if err := s.backend.ScanBlocks(cur.in, cur.out, cur.totals, b); err != nil {
			return append(stack, cur), fmt.Errorf("level %d scan: %w", depth, err)
		}
		stack = append(stack, cur)

		if cur.blocks == 1 {
			return stack, nil
		}
		cur = level{
			n:      cur.blocks,
			padded: totalsLen,
			blocks: BlockCount(cur.blocks, b),
			in:     cur.totals,
			arena:  arena{backend: s.backend},
		}
	}
}

// sweepDown folds each level's scanned totals into the level below, top
// first, releasing a level once it has been consumed.
func (s *Scanner) sweepDown(stack []level) error {
	for i := len(stack) - 2; i >= 0; i-- {
		parent, child := &stack[i], &stack[i+1]
		if err := s.backend.AddBlocks(parent.out, child.out, s.blockSize); err != nil {
			return fmt.Errorf("level %d add: %w", i, err)
		}
		child.arena.release()
	}
	return nil
}

// Inclusive scans input on a sequential CPUBackend with DefaultBlockSize.
func Inclusive(input []float64) ([]float64, error) {
	s, err := NewScanner(NewCPUBackend())
	if err != nil {
		return nil, err
	}
	return s.Scan(input)
}
