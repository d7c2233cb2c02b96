package pods

import "fmt"

type ReduceIn struct {
	In   []float64
	Kind string // "sum"|"mean"|"min"|"max"
}
type ReduceOut struct {
	Value float64
}

type ReducePod struct{}

func (ReducePod) Name() string { return "primitives/reduce" }

// Run computes sum and mean from the last element of an inclusive scan, so
// they follow the same backend and summation order as ScanPod.
func (ReducePod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ReduceIn)
	if !ok {
		return nil, fmt.Errorf("%w: ReduceIn expected, got %T", ErrBadInput, in)
	}
	if len(args.In) == 0 {
		return ReduceOut{0}, nil
	}
	switch args.Kind {
	case "sum", "mean":
		res, err := ScanPod{}.Run(x, ScanIn{In: args.In, Inclusive: true})
		if err != nil {
			return nil, err
		}
		out := res.(ScanOut).Out
		s := out[len(out)-1]
		if args.Kind == "mean" {
			s /= float64(len(args.In))
		}
		return ReduceOut{Value: s}, nil
	case "min":
		m := args.In[0]
		for _, v := range args.In[1:] {
			if v < m {
				m = v
			}
		}
		return ReduceOut{Value: m}, nil
	case "max":
		m := args.In[0]
		for _, v := range args.In[1:] {
			if v > m {
				m = v
			}
		}
		return ReduceOut{Value: m}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, args.Kind)
	}
}
