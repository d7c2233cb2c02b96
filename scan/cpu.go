package scan

import (
	"fmt"
	"sync"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CPUBackend Implementation
// =============================================================================

// CPUBackend is the reference Backend. It runs each block's doubling rounds
// on the host, exactly as a workgroup would on a device, so its results are
// bit-identical to any backend that follows the same round order.
type CPUBackend struct {
	workers int

	mu   sync.Mutex
	live map[*hostBuffer]struct{}
}

// CPUOption configures a CPUBackend.
type CPUOption func(*CPUBackend)

// WithWorkers spreads blocks over up to n goroutines per launch.
// n <= 1 keeps the backend fully sequential.
func WithWorkers(n int) CPUOption {
	return func(b *CPUBackend) {
		b.workers = n
	}
}

// NewCPUBackend creates a new CPU backend.
func NewCPUBackend(opts ...CPUOption) *CPUBackend {
	b := &CPUBackend{live: make(map[*hostBuffer]struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type hostBuffer struct {
	data []float64
}

func (h *hostBuffer) Len() int { return len(h.data) }

func (b *CPUBackend) Name() string {
	if b.workers > 1 {
		return fmt.Sprintf("cpu/%d", b.workers)
	}
	return "cpu"
}

func (b *CPUBackend) MaxBlockSize() int { return 0 }

// Live reports how many buffers are currently allocated.
func (b *CPUBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *CPUBackend) Alloc(n int) (Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("alloc %d elements: %w", n, ErrLength)
	}
	h := &hostBuffer{data: make([]float64, n)}
	b.mu.Lock()
	b.live[h] = struct{}{}
	b.mu.Unlock()
	return h, nil
}

func (b *CPUBackend) Free(buf Buffer) {
	h, ok := buf.(*hostBuffer)
	if !ok || h == nil {
		return
	}
	b.mu.Lock()
	delete(b.live, h)
	b.mu.Unlock()
}

func (b *CPUBackend) own(buf Buffer) (*hostBuffer, error) {
	h, ok := buf.(*hostBuffer)
	if !ok || h == nil {
		return nil, ErrForeignBuffer
	}
	b.mu.Lock()
	_, live := b.live[h]
	b.mu.Unlock()
	if !live {
		return nil, ErrForeignBuffer
	}
	return h, nil
}

func (b *CPUBackend) Write(dst Buffer, src []float64) error {
	h, err := b.own(dst)
	if err != nil {
		return err
	}
	if len(src) > len(h.data) {
		return fmt.Errorf("write %d into %d: %w", len(src), len(h.data), ErrLength)
	}
	copy(h.data, src)
	return nil
}

func (b *CPUBackend) Read(src Buffer, dst []float64) error {
	h, err := b.own(src)
	if err != nil {
		return err
	}
	if len(dst) > len(h.data) {
		return fmt.Errorf("read %d from %d: %w", len(dst), len(h.data), ErrLength)
	}
	copy(dst, h.data)
	return nil
}

func (b *CPUBackend) ScanBlocks(in, out, totals Buffer, blockSize int) error {
	src, err := b.own(in)
	if err != nil {
		return err
	}
	dst, err := b.own(out)
	if err != nil {
		return err
	}
	sums, err := b.own(totals)
	if err != nil {
		return err
	}
	n := len(src.data)
	if blockSize < 1 || n%blockSize != 0 || len(dst.data) != n {
		return fmt.Errorf("scan %d into %d with block %d: %w", n, len(dst.data), blockSize, ErrLength)
	}
	blocks := n / blockSize
	if len(sums.data) < blocks {
		return fmt.Errorf("totals %d for %d blocks: %w", len(sums.data), blocks, ErrLength)
	}

	return b.forBlocks(blocks, blockSize, func(blk int, scratch []float64) {
		lo, hi := blk*blockSize, (blk+1)*blockSize
		scanBlock(src.data[lo:hi], dst.data[lo:hi], scratch)
		sums.data[blk] = dst.data[hi-1]
	})
}

func (b *CPUBackend) AddBlocks(data, scanned Buffer, blockSize int) error {
	dst, err := b.own(data)
	if err != nil {
		return err
	}
	offs, err := b.own(scanned)
	if err != nil {
		return err
	}
	n := len(dst.data)
	if blockSize < 1 || n%blockSize != 0 {
		return fmt.Errorf("add into %d with block %d: %w", n, blockSize, ErrLength)
	}
	blocks := n / blockSize
	if blocks > 1 && len(offs.data) < blocks-1 {
		return fmt.Errorf("offsets %d for %d blocks: %w", len(offs.data), blocks, ErrLength)
	}

	return b.forBlocks(blocks, blockSize, func(blk int, scratch []float64) {
		if blk == 0 {
			return
		}
		addBlock(dst.data[blk*blockSize:(blk+1)*blockSize], offs.data[blk-1], scratch)
	})
}

// forBlocks runs fn once per block, either in order or spread over workers.
// Each chunk of blocks gets one scratch slice of 2*blockSize elements that
// fn may clobber. Blocks never share writes, so the only synchronisation
// needed is the final Wait, which is the launch barrier.
func (b *CPUBackend) forBlocks(blocks, blockSize int, fn func(blk int, scratch []float64)) error {
	if b.workers <= 1 || blocks <= 1 {
		scratch := make([]float64, 2*blockSize)
		for blk := 0; blk < blocks; blk++ {
			fn(blk, scratch)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(b.workers)
	chunk := (blocks + b.workers - 1) / b.workers
	for start := 0; start < blocks; start += chunk {
		end := min(start+chunk, blocks)
		g.Go(func() error {
			scratch := make([]float64, 2*blockSize)
			for blk := start; blk < end; blk++ {
				fn(blk, scratch)
			}
			return nil
		})
	}
	return g.Wait()
}

// scanBlock runs the doubling-stride rounds over one block. Each round reads
// only the previous round's values: prev and next are swapped per round, the
// host equivalent of a barrier between supersteps. scratch holds at least
// 2*len(in) elements.
func scanBlock(in, out, scratch []float64) {
	n := len(in)
	prev, next := scratch[:n], scratch[n:2*n]
	copy(prev, in)
	for stride := 1; stride < n; stride <<= 1 {
		for i := 0; i < n; i++ {
			if i >= stride {
				next[i] = prev[i] + prev[i-stride]
			} else {
				next[i] = prev[i]
			}
		}
		prev, next = next, prev
	}
	copy(out, prev)
}

// addBlock broadcasts one offset over a block, using scratch as the row.
func addBlock(block []float64, offset float64, scratch []float64) {
	row := scratch[:len(block)]
	for i := range row {
		row[i] = offset
	}
	vecmath.AddBlockInPlace(block, row)
}
