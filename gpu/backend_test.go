package gpu

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/openfluke/loomscan/scan"
)

var (
	testCtxOnce sync.Once
	testCtx     *Context
	testCtxErr  error
)

// openTestContext opens any adapter once per test binary and skips the
// calling test when none is available.
func openTestContext(t *testing.T) *Context {
	t.Helper()
	testCtxOnce.Do(func() {
		testCtx, testCtxErr = Open(Config{Fallback: true})
	})
	if testCtxErr != nil {
		t.Skipf("no WebGPU adapter: %v", testCtxErr)
	}
	return testCtx
}

func TestMatchVendor(t *testing.T) {
	cases := []struct {
		name, vendor, want string
		match              bool
	}{
		{"NVIDIA GeForce RTX 4090", "", "nvidia", true},
		{"Radeon RX 7900", "AMD", "amd", true},
		{"llvmpipe (LLVM 17.0.6, 256 bits)", "llvmpipe", "NVIDIA", false},
		{"Apple M2", "apple", "", true},
		{"Intel(R) UHD", "Intel", "INTEL", true},
	}
	for _, c := range cases {
		if got := MatchVendor(c.name, c.vendor, c.want); got != c.match {
			t.Errorf("MatchVendor(%q, %q, %q): expected %v, got %v", c.name, c.vendor, c.want, c.match, got)
		}
	}
}

func TestGrid(t *testing.T) {
	cases := []struct {
		blocks    int
		limit     uint32
		x, y      uint32
		shouldErr bool
	}{
		{1, 65535, 1, 1, false},
		{65535, 65535, 65535, 1, false},
		{65536, 65535, 65535, 2, false},
		{10, 4, 4, 3, false},
		{17, 4, 0, 0, true},
		{0, 4, 0, 0, true},
	}
	for _, c := range cases {
		x, y, err := grid(c.blocks, c.limit)
		if c.shouldErr {
			if !errors.Is(err, scan.ErrLength) {
				t.Errorf("grid(%d, %d): expected ErrLength, got %v", c.blocks, c.limit, err)
			}
			continue
		}
		if err != nil || x != c.x || y != c.y {
			t.Errorf("grid(%d, %d): expected %dx%d, got %dx%d (%v)", c.blocks, c.limit, c.x, c.y, x, y, err)
		}
		if int(x)*int(y) < c.blocks {
			t.Errorf("grid(%d, %d): %dx%d does not cover all blocks", c.blocks, c.limit, x, y)
		}
	}
}

func TestShaderSourcesCarryBlockSize(t *testing.T) {
	src := scanShader(128)
	for _, want := range []string{"const BLOCK_SIZE: u32 = 128u;", "array<vec2<f32>, 256>", "@workgroup_size(128)", "workgroupBarrier()", "df_add(prev"} {
		if !strings.Contains(src, want) {
			t.Errorf("scan shader missing %q", want)
		}
	}
	add := addShader(64)
	for _, want := range []string{"const BLOCK_SIZE: u32 = 64u;", "@workgroup_size(64)", "df_add(data[i], scanned[blk - 1u])"} {
		if !strings.Contains(add, want) {
			t.Errorf("add shader missing %q", want)
		}
	}
}

func TestDefaultConfigVendor(t *testing.T) {
	t.Setenv("LOOMSCAN_VENDOR", "amd")
	if cfg := DefaultConfig(); cfg.Vendor != "amd" || cfg.Fallback {
		t.Errorf("Expected vendor amd without fallback, got %+v", cfg)
	}
}

func TestOpenUnknownVendor(t *testing.T) {
	openTestContext(t)
	_, err := Open(Config{Vendor: "no-such-vendor-xyz"})
	if !errors.Is(err, ErrNoAdapter) {
		t.Errorf("Expected ErrNoAdapter, got %v", err)
	}
}

func newTestScanner(t *testing.T, blockSize int) (*Backend, *scan.Scanner) {
	t.Helper()
	ctx := openTestContext(t)
	b, err := NewBackend(ctx, blockSize)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(b.Close)
	s, err := scan.NewScanner(b, scan.WithBlockSize(blockSize))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return b, s
}

// Small integers keep every prefix exact, so results compare with ==.
func smallInts(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64((i*7 + 3) % 10)
	}
	return out
}

func TestGPUScanMatchesCPU(t *testing.T) {
	b, s := newTestScanner(t, scan.DefaultBlockSize)

	for _, n := range []int{1, 255, 256, 257, 2 * scan.DefaultBlockSize, 70000} {
		input := smallInts(n)
		got, err := s.Scan(input)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		want := scan.Naive(input)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("n=%d: result[%d]: expected %v, got %v", n, i, want[i], got[i])
			}
		}
	}
	if b.Live() != 0 {
		t.Errorf("Expected all device buffers released, got %d", b.Live())
	}
}

func TestGPUScanMultiLevelOnes(t *testing.T) {
	_, s := newTestScanner(t, scan.DefaultBlockSize)
	n := scan.DefaultBlockSize*scan.DefaultBlockSize + 1
	input := make([]float64, n)
	for i := range input {
		input[i] = 1
	}
	got, err := s.Scan(input)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != float64(i+1) {
			t.Fatalf("result[%d]: expected %d, got %v", i, i+1, got[i])
		}
	}
}

func TestGPUSmallBlockDeterministic(t *testing.T) {
	_, s := newTestScanner(t, 16)
	input := smallInts(5000)
	first, err := s.Scan(input)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Scan(input)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("result[%d] differs between runs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestGPURejectsOversizedBlock(t *testing.T) {
	ctx := openTestContext(t)
	b, err := NewBackend(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	_, err = scan.NewScanner(b, scan.WithBlockSize(b.MaxBlockSize()*2))
	if !errors.Is(err, scan.ErrBlockSize) {
		t.Errorf("Expected ErrBlockSize, got %v", err)
	}
}

func TestFloatBufferRoundTrip(t *testing.T) {
	ctx := openTestContext(t)
	data := []float32{1, -2, 3.5, 0}
	buf, err := NewFloatBuffer(ctx, data, "roundtrip")
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy()
	got, err := ReadBuffer(ctx, buf, len(data))
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Errorf("element %d: expected %v, got %v", i, data[i], got[i])
		}
	}
}

func TestSplitDF64(t *testing.T) {
	for _, v := range []float64{0, 1, 0.001, -3.25, 16777217, 16777217.001, 1e10 + 0.5} {
		hi, low := splitDF64(v)
		if float32(v) != hi {
			t.Errorf("split(%v): expected hi %v, got %v", v, float32(v), hi)
		}
		got := joinDF64(hi, low)
		if d := got - v; d > 1e-9*max(1, v) || d < -1e-9*max(1, v) {
			t.Errorf("split(%v): pair joins back to %v", v, got)
		}
	}
}

// Values past f32's 24-bit significand must survive the device round trip
// and the block scan with three decimals intact.
func TestGPUScanKeepsDoublePrecision(t *testing.T) {
	_, s := newTestScanner(t, 16)
	input := []float64{16777216, 1, 0.001}
	for i := 0; i < 40; i++ {
		input = append(input, 0.125)
	}
	got, err := s.Scan(input)
	if err != nil {
		t.Fatal(err)
	}
	want := scan.Naive(input)
	for i := range want {
		if fmt.Sprintf("%.3f", got[i]) != fmt.Sprintf("%.3f", want[i]) {
			t.Errorf("result[%d]: expected %.3f, got %.3f", i, want[i], got[i])
		}
	}
}

func TestGPUWriteReadRoundTrip(t *testing.T) {
	b, _ := newTestScanner(t, scan.DefaultBlockSize)
	buf, err := b.Alloc(4)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Free(buf)

	src := []float64{16777217, 0.001, -2.5, 1e6 + 0.125}
	if err := b.Write(buf, src); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]float64, len(src))
	if err := b.Read(buf, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range src {
		if fmt.Sprintf("%.3f", got[i]) != fmt.Sprintf("%.3f", src[i]) {
			t.Errorf("element %d: expected %.3f, got %.3f", i, src[i], got[i])
		}
	}

	if err := b.Write(buf, make([]float64, 5)); !errors.Is(err, scan.ErrLength) {
		t.Errorf("Expected ErrLength for an oversized write, got %v", err)
	}
}
