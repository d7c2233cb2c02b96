package pods

import "fmt"

type ScanIn struct {
	In        []float64
	Inclusive bool
}
type ScanOut struct {
	Out     []float64
	Backend string
}

type ScanPod struct{}

func (ScanPod) Name() string { return "primitives/scan" }

func (ScanPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ScanIn)
	if !ok {
		return nil, fmt.Errorf("%w: ScanIn expected, got %T", ErrBadInput, in)
	}
	if err := x.err(); err != nil {
		return nil, err
	}

	if x.UseGPU {
		if x.GPU == nil {
			return nil, ErrNoGPU
		}
		out, err := x.GPU.DispatchScanF64(args.In, args.Inclusive)
		if err != nil {
			return nil, err
		}
		name := "gpu"
		if h, ok := x.GPU.(*ScannerHooks); ok {
			name = h.Scanner.Backend().Name()
		}
		return ScanOut{Out: out, Backend: name}, nil
	}

	s, err := x.cpuScanner()
	if err != nil {
		return nil, err
	}
	var out []float64
	if args.Inclusive {
		out, err = s.Scan(args.In)
	} else {
		out, err = s.ScanExclusive(args.In)
	}
	if err != nil {
		return nil, err
	}
	return ScanOut{Out: out, Backend: s.Backend().Name()}, nil
}
