package pods

import (
	"fmt"
	"slices"
	"time"

	"github.com/openfluke/loomscan/gpu"
	"github.com/openfluke/loomscan/scan"
	"github.com/samber/lo"
)

// BackendConfig gathers the knobs every backend factory may read.
type BackendConfig struct {
	Workers     int
	BlockSize   int
	Vendor      string
	Fallback    bool
	ReadTimeout time.Duration
}

// Factory opens a backend; the returned func releases it.
type Factory func(cfg BackendConfig) (scan.Backend, func(), error)

var registry = map[string]Factory{}

func Register(name string, fn Factory) { registry[name] = fn }

func Names() []string {
	out := lo.Keys(registry)
	slices.Sort(out)
	return out
}

// Open builds the named backend and a scanner over it.
func Open(name string, cfg BackendConfig) (*scan.Scanner, func(), error) {
	fn, ok := registry[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q (have %v)", name, Names())
	}
	b, closeFn, err := fn(cfg)
	if err != nil {
		return nil, nil, err
	}
	var opts []scan.Option
	if cfg.BlockSize > 0 {
		opts = append(opts, scan.WithBlockSize(cfg.BlockSize))
	}
	s, err := scan.NewScanner(b, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

func init() {
	Register("cpu", func(cfg BackendConfig) (scan.Backend, func(), error) {
		var opts []scan.CPUOption
		if cfg.Workers > 0 {
			opts = append(opts, scan.WithWorkers(cfg.Workers))
		}
		return scan.NewCPUBackend(opts...), func() {}, nil
	})
	Register("gpu", func(cfg BackendConfig) (scan.Backend, func(), error) {
		ctx, err := gpu.Open(gpu.Config{Vendor: cfg.Vendor, Fallback: cfg.Fallback, ReadTimeout: cfg.ReadTimeout})
		if err != nil {
			return nil, nil, err
		}
		blockSize := cfg.BlockSize
		if blockSize <= 0 {
			blockSize = scan.DefaultBlockSize
		}
		b, err := gpu.NewBackend(ctx, blockSize)
		if err != nil {
			ctx.Release()
			return nil, nil, err
		}
		return b, func() {
			b.Close()
			ctx.Release()
		}, nil
	})
}
