package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/loomscan/scan"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/samber/lo"
)

// Backend runs the block scan and block add kernels on a WebGPU device.
// WGSL has no f64, so each element lives on the device as a df64 pair of
// f32 (hi, lo): Write splits host values, the kernels add pairs with
// two-sum, and Read folds the pair back into a float64.
//
// Every launch is recorded into its own command buffer and submitted to the
// single device queue, so launches execute and become visible in call order.
type Backend struct {
	ctx *Context

	mu        sync.Mutex
	pipelines map[int]*kernels
	live      map[*deviceBuffer]struct{}
}

// kernels holds the compiled pipelines for one block size.
type kernels struct {
	scan       *wgpu.ComputePipeline
	scanLayout *wgpu.BindGroupLayout
	add        *wgpu.ComputePipeline
	addLayout  *wgpu.BindGroupLayout
}

type deviceBuffer struct {
	buf *wgpu.Buffer
	n   int
}

func (d *deviceBuffer) Len() int { return d.n }

// NewBackend creates a backend on ctx and compiles the kernels for each
// block size given (scan.DefaultBlockSize when none is). Other block sizes
// are compiled on first use.
func NewBackend(ctx *Context, blockSizes ...int) (*Backend, error) {
	b := &Backend{
		ctx:       ctx,
		pipelines: make(map[int]*kernels),
		live:      make(map[*deviceBuffer]struct{}),
	}
	if len(blockSizes) == 0 {
		blockSizes = []int{scan.DefaultBlockSize}
	}
	for _, bs := range blockSizes {
		if _, err := b.kernelsFor(bs); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) Name() string {
	return fmt.Sprintf("webgpu/%s", b.ctx.AdapterName)
}

// MaxBlockSize is bounded by the invocations one workgroup may run.
func (b *Backend) MaxBlockSize() int {
	return int(min(b.ctx.MaxInvocationsPerWorkgroup, b.ctx.MaxWorkgroupSizeX))
}

// Live reports how many buffers are currently allocated.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *Backend) Alloc(n int) (scan.Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("alloc %d elements: %w", n, scan.ErrLength)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := NewStorageBuffer(b.ctx, 2*n, fmt.Sprintf("scan_%d", n))
	if err != nil {
		return nil, err
	}
	d := &deviceBuffer{buf: buf, n: n}
	b.live[d] = struct{}{}
	return d, nil
}

func (b *Backend) Free(buf scan.Buffer) {
	d, ok := buf.(*deviceBuffer)
	if !ok || d == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, live := b.live[d]; !live {
		return
	}
	delete(b.live, d)
	d.buf.Destroy()
}

// own must be called with b.mu held.
func (b *Backend) own(buf scan.Buffer) (*deviceBuffer, error) {
	d, ok := buf.(*deviceBuffer)
	if !ok || d == nil {
		return nil, scan.ErrForeignBuffer
	}
	if _, live := b.live[d]; !live {
		return nil, scan.ErrForeignBuffer
	}
	return d, nil
}

func (b *Backend) Write(dst scan.Buffer, src []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.own(dst)
	if err != nil {
		return err
	}
	if len(src) > d.n {
		return fmt.Errorf("write %d into %d: %w", len(src), d.n, scan.ErrLength)
	}
	if len(src) == 0 {
		return nil
	}
	pairs := lo.FlatMap(src, func(v float64, _ int) []float32 {
		hi, low := splitDF64(v)
		return []float32{hi, low}
	})
	if err := b.ctx.Queue.WriteBuffer(d.buf, 0, wgpu.ToBytes(pairs)); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	return nil
}

func (b *Backend) Read(src scan.Buffer, dst []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.own(src)
	if err != nil {
		return err
	}
	if len(dst) > d.n {
		return fmt.Errorf("read %d from %d: %w", len(dst), d.n, scan.ErrLength)
	}
	data, err := ReadBuffer(b.ctx, d.buf, 2*len(dst))
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = joinDF64(data[2*i], data[2*i+1])
	}
	return nil
}

// splitDF64 rounds v to the nearest f32 and keeps the remainder in low.
func splitDF64(v float64) (hi, low float32) {
	hi = float32(v)
	return hi, float32(v - float64(hi))
}

func joinDF64(hi, low float32) float64 {
	return float64(hi) + float64(low)
}

func (b *Backend) ScanBlocks(in, out, totals scan.Buffer, blockSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

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
	if blockSize < 1 || src.n%blockSize != 0 || dst.n != src.n {
		return fmt.Errorf("scan %d into %d with block %d: %w", src.n, dst.n, blockSize, scan.ErrLength)
	}
	blocks := src.n / blockSize
	if sums.n < blocks {
		return fmt.Errorf("totals %d for %d blocks: %w", sums.n, blocks, scan.ErrLength)
	}

	k, err := b.kernelsFor(blockSize)
	if err != nil {
		return err
	}
	return b.launch("ScanBlocks", k.scan, k.scanLayout, blocks, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: src.buf, Size: src.buf.GetSize()},
		{Binding: 1, Buffer: dst.buf, Size: dst.buf.GetSize()},
		{Binding: 2, Buffer: sums.buf, Size: sums.buf.GetSize()},
	})
}

func (b *Backend) AddBlocks(data, scanned scan.Buffer, blockSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst, err := b.own(data)
	if err != nil {
		return err
	}
	offs, err := b.own(scanned)
	if err != nil {
		return err
	}
	if blockSize < 1 || dst.n%blockSize != 0 {
		return fmt.Errorf("add into %d with block %d: %w", dst.n, blockSize, scan.ErrLength)
	}
	blocks := dst.n / blockSize
	if blocks > 1 && offs.n < blocks-1 {
		return fmt.Errorf("offsets %d for %d blocks: %w", offs.n, blocks, scan.ErrLength)
	}
	if blocks <= 1 {
		return nil
	}

	k, err := b.kernelsFor(blockSize)
	if err != nil {
		return err
	}
	return b.launch("AddBlocks", k.add, k.addLayout, blocks, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: dst.buf, Size: dst.buf.GetSize()},
		{Binding: 1, Buffer: offs.buf, Size: offs.buf.GetSize()},
	})
}

// launch binds entries and dispatches one workgroup per block.
func (b *Backend) launch(label string, pipe *wgpu.ComputePipeline, layout *wgpu.BindGroupLayout, blocks int, entries []wgpu.BindGroupEntry) error {
	x, y, err := grid(blocks, b.ctx.MaxWorkgroupsPerDimension)
	if err != nil {
		return err
	}

	bindGroup, err := b.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label + "_Bind",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%s bind group: %v", label, err)
	}
	defer bindGroup.Release()

	enc, err := b.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("%s encoder: %v", label, err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("%s finish: %v", label, err)
	}
	b.ctx.Queue.Submit(cmd)

	if Debug {
		Log("%s: %d blocks as %dx%d workgroups", label, blocks, x, y)
	}
	return nil
}

// grid folds a block count into a 2D dispatch that respects the
// per-dimension workgroup limit.
func grid(blocks int, maxPerDim uint32) (uint32, uint32, error) {
	if blocks < 1 {
		return 0, 0, fmt.Errorf("dispatch of %d blocks: %w", blocks, scan.ErrLength)
	}
	limit := int(maxPerDim)
	if limit <= 0 {
		limit = 65535
	}
	x := min(blocks, limit)
	y := (blocks + x - 1) / x
	if y > limit {
		return 0, 0, fmt.Errorf("%d blocks exceed a %dx%d dispatch: %w", blocks, limit, limit, scan.ErrLength)
	}
	return uint32(x), uint32(y), nil
}

// kernelsFor returns (compiling if needed) the pipelines for a block size.
// Callers other than NewBackend hold b.mu.
func (b *Backend) kernelsFor(blockSize int) (*kernels, error) {
	if k, ok := b.pipelines[blockSize]; ok {
		return k, nil
	}
	limit := b.MaxBlockSize()
	if blockSize < 2 || blockSize&(blockSize-1) != 0 || (limit > 0 && blockSize > limit) {
		return nil, fmt.Errorf("block size %d (max %d): %w", blockSize, limit, scan.ErrBlockSize)
	}

	k := &kernels{}
	var err error
	label := fmt.Sprintf("Scan%d", blockSize)
	k.scan, k.scanLayout, err = b.compile(label, scanShader(blockSize), []wgpu.BufferBindingType{
		wgpu.BufferBindingTypeReadOnlyStorage,
		wgpu.BufferBindingTypeStorage,
		wgpu.BufferBindingTypeStorage,
	})
	if err != nil {
		return nil, err
	}
	label = fmt.Sprintf("Add%d", blockSize)
	k.add, k.addLayout, err = b.compile(label, addShader(blockSize), []wgpu.BufferBindingType{
		wgpu.BufferBindingTypeStorage,
		wgpu.BufferBindingTypeReadOnlyStorage,
	})
	if err != nil {
		k.release()
		return nil, err
	}
	b.pipelines[blockSize] = k
	return k, nil
}

// compile builds a pipeline with an explicit bind group layout, one storage
// binding per entry of bindings.
func (b *Backend) compile(label, code string, bindings []wgpu.BufferBindingType) (*wgpu.ComputePipeline, *wgpu.BindGroupLayout, error) {
	module, err := b.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrShaderBuild, label, err)
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	for i, t := range bindings {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}
	layout, err := b.ctx.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label + "_BGL",
		Entries: entries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s layout: %v", ErrShaderBuild, label, err)
	}

	pipelineLayout, err := b.ctx.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		layout.Release()
		return nil, nil, fmt.Errorf("%w: %s pipeline layout: %v", ErrShaderBuild, label, err)
	}
	defer pipelineLayout.Release()

	pipe, err := b.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		layout.Release()
		return nil, nil, fmt.Errorf("%w: %s pipeline: %v", ErrShaderBuild, label, err)
	}
	return pipe, layout, nil
}

func (k *kernels) release() {
	if k.scan != nil {
		k.scan.Release()
	}
	if k.scanLayout != nil {
		k.scanLayout.Release()
	}
	if k.add != nil {
		k.add.Release()
	}
	if k.addLayout != nil {
		k.addLayout.Release()
	}
}

// Close destroys every live buffer and releases the compiled pipelines.
// The context is left open.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for d := range b.live {
		d.buf.Destroy()
	}
	b.live = make(map[*deviceBuffer]struct{})
	for bs, k := range b.pipelines {
		k.release()
		delete(b.pipelines, bs)
	}
}

var _ scan.Backend = (*Backend)(nil)
