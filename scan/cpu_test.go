package scan

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func allocWith(t *testing.T, b *CPUBackend, data []float64, n int) Buffer {
	t.Helper()
	buf, err := b.Alloc(n)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(buf, data); err != nil {
		t.Fatal(err)
	}
	return buf
}

func readAll(t *testing.T, b *CPUBackend, buf Buffer) []float64 {
	t.Helper()
	out := make([]float64, buf.Len())
	if err := b.Read(buf, out); err != nil {
		t.Fatal(err)
	}
	return out
}

// TestCPUScanBlocksIsBlockLocal verifies each block restarts from zero and
// reports its own total.
func TestCPUScanBlocksIsBlockLocal(t *testing.T) {
	for _, workers := range []int{0, 3} {
		b := NewCPUBackend(WithWorkers(workers))
		in := allocWith(t, b, []float64{1, 2, 3, 4, 10, 20, 30, 40, 5, 0, 0, 0}, 12)
		out, _ := b.Alloc(12)
		totals, _ := b.Alloc(4)

		if err := b.ScanBlocks(in, out, totals, 4); err != nil {
			t.Fatal(err)
		}

		wantOut := []float64{1, 3, 6, 10, 10, 30, 60, 100, 5, 5, 5, 5}
		if diff := cmp.Diff(wantOut, readAll(t, b, out)); diff != "" {
			t.Errorf("workers=%d out (-want +got):\n%s", workers, diff)
		}
		wantTotals := []float64{10, 100, 5, 0}
		if diff := cmp.Diff(wantTotals, readAll(t, b, totals)); diff != "" {
			t.Errorf("workers=%d totals (-want +got):\n%s", workers, diff)
		}
	}
}

func TestCPUAddBlocksShiftsOffsets(t *testing.T) {
	b := NewCPUBackend()
	data := allocWith(t, b, []float64{1, 2, 3, 4, 5, 6}, 6)
	scanned := allocWith(t, b, []float64{100, 300, 600}, 3)

	if err := b.AddBlocks(data, scanned, 2); err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 103, 104, 305, 306}
	if diff := cmp.Diff(want, readAll(t, b, data)); diff != "" {
		t.Errorf("add (-want +got):\n%s", diff)
	}
}

func TestCPUZeroPaddingBlockScansToZero(t *testing.T) {
	b := NewCPUBackend()
	in, _ := b.Alloc(8)
	out, _ := b.Alloc(8)
	totals, _ := b.Alloc(2)
	if err := b.ScanBlocks(in, out, totals, 4); err != nil {
		t.Fatal(err)
	}
	for i, v := range readAll(t, b, out) {
		if v != 0 {
			t.Errorf("out[%d]: expected 0, got %v", i, v)
		}
	}
	for i, v := range readAll(t, b, totals) {
		if v != 0 {
			t.Errorf("totals[%d]: expected 0, got %v", i, v)
		}
	}
}

type otherBuffer struct{}

func (otherBuffer) Len() int { return 4 }

func TestCPURejectsForeignAndFreedBuffers(t *testing.T) {
	b := NewCPUBackend()
	if err := b.Write(otherBuffer{}, []float64{1}); !errors.Is(err, ErrForeignBuffer) {
		t.Errorf("Expected ErrForeignBuffer for foreign buffer, got %v", err)
	}

	other := NewCPUBackend()
	buf, _ := other.Alloc(4)
	if err := b.Read(buf, make([]float64, 4)); !errors.Is(err, ErrForeignBuffer) {
		t.Errorf("Expected ErrForeignBuffer for another backend's buffer, got %v", err)
	}

	mine, _ := b.Alloc(4)
	b.Free(mine)
	b.Free(mine)
	if err := b.Write(mine, []float64{1}); !errors.Is(err, ErrForeignBuffer) {
		t.Errorf("Expected ErrForeignBuffer after Free, got %v", err)
	}
	if b.Live() != 0 {
		t.Errorf("Expected 0 live buffers, got %d", b.Live())
	}
}

func TestCPULengthChecks(t *testing.T) {
	b := NewCPUBackend()
	small, _ := b.Alloc(2)
	if err := b.Write(small, []float64{1, 2, 3}); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength on oversized write, got %v", err)
	}
	if err := b.Read(small, make([]float64, 3)); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength on oversized read, got %v", err)
	}

	in, _ := b.Alloc(6)
	out, _ := b.Alloc(6)
	totals, _ := b.Alloc(1)
	if err := b.ScanBlocks(in, out, totals, 4); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength for unaligned scan, got %v", err)
	}
	if err := b.ScanBlocks(in, out, totals, 2); !errors.Is(err, ErrLength) {
		t.Errorf("Expected ErrLength for short totals, got %v", err)
	}
}

// TestCPULaunchAllocationsDoNotGrowWithBlocks checks that scratch space is
// allocated per launch rather than per block.
func TestCPULaunchAllocationsDoNotGrowWithBlocks(t *testing.T) {
	const blockSize, blocks = 8, 1024
	b := NewCPUBackend()
	in := allocWith(t, b, ones(blockSize*blocks), blockSize*blocks)
	out := allocWith(t, b, nil, blockSize*blocks)
	totals := allocWith(t, b, nil, blocks)

	scanAllocs := testing.AllocsPerRun(5, func() {
		_ = b.ScanBlocks(in, out, totals, blockSize)
	})
	addAllocs := testing.AllocsPerRun(5, func() {
		_ = b.AddBlocks(out, totals, blockSize)
	})
	if scanAllocs > 4 || addAllocs > 4 {
		t.Errorf("Expected a constant number of allocations per launch, got scan=%v add=%v", scanAllocs, addAllocs)
	}
}
