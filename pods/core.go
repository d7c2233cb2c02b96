package pods

import (
	"context"
	"time"

	"github.com/openfluke/loomscan/detector"
	"github.com/openfluke/loomscan/scan"
)

// Pod is a unit of work (scan, reduce, …).
type Pod interface {
	Name() string
	Run(ctx *ExecContext, in any) (out any, err error)
}

// ExecContext carries execution choices and capabilities.
type ExecContext struct {
	Ctx       context.Context
	UseGPU    bool             // high-level knob; pods may override per-op
	Report    *detector.Report // detector output (limits, features, recs)
	GPU       GPUHooks         // nil unless a device backend was opened
	Workers   int              // CPU fan-out; 0 runs blocks sequentially
	BlockSize int              // 0 means scan.DefaultBlockSize
	Now       time.Time
}

// NewContext builds a CPU-only context, taking the block size the report
// recommends when it has one.
func NewContext(rep *detector.Report) *ExecContext {
	ec := &ExecContext{
		Ctx:    context.Background(),
		UseGPU: false,
		Report: rep,
		Now:    time.Now(),
	}
	if rep != nil && rep.Recommended.BlockSize > 0 {
		ec.BlockSize = int(rep.Recommended.BlockSize)
	}
	return ec
}

func (ec *ExecContext) WithGPU(g GPUHooks) *ExecContext {
	ec.GPU = g
	ec.UseGPU = g != nil
	return ec
}

func (ec *ExecContext) WithWorkers(n int) *ExecContext {
	ec.Workers = n
	return ec
}

func (ec *ExecContext) blockSize() int {
	if ec.BlockSize > 0 {
		return ec.BlockSize
	}
	return scan.DefaultBlockSize
}

// cpuScanner builds a reference scanner honouring the context's knobs.
func (ec *ExecContext) cpuScanner() (*scan.Scanner, error) {
	var opts []scan.CPUOption
	if ec.Workers > 0 {
		opts = append(opts, scan.WithWorkers(ec.Workers))
	}
	return scan.NewScanner(scan.NewCPUBackend(opts...), scan.WithBlockSize(ec.blockSize()))
}

func (ec *ExecContext) err() error {
	if ec.Ctx == nil {
		return nil
	}
	return ec.Ctx.Err()
}
