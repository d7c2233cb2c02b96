package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openfluke/loomscan/detector"
	"github.com/openfluke/loomscan/gpu"
	"github.com/openfluke/loomscan/pods"
	"github.com/openfluke/loomscan/scan"
	"github.com/openfluke/loomscan/seqio"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loomscan:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loomscan",
		Short:         "Block-composed prefix sums on WebGPU or the CPU",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDetectCmd(), newBackendsCmd())
	return root
}

type runOptions struct {
	in, out   string
	backend   string
	vendor    string
	fallback  bool
	blockSize int
	workers   int
	exclusive bool
	verify    bool
	timeout   time.Duration
}

func newRunCmd() *cobra.Command {
	def := gpu.DefaultConfig()
	o := runOptions{vendor: def.Vendor}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Read a sequence, scan it and write the prefix sums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.in, "in", "", "input file (default stdin)")
	f.StringVar(&o.out, "out", "", "output file (default stdout)")
	f.StringVar(&o.backend, "backend", "cpu", "backend name, see `loomscan backends`")
	f.StringVar(&o.vendor, "vendor", o.vendor, "adapter name/vendor substring (env LOOMSCAN_VENDOR)")
	f.BoolVar(&o.fallback, "fallback", false, "use any adapter when none matches --vendor")
	f.IntVar(&o.blockSize, "block-size", scan.DefaultBlockSize, "elements scanned per block (power of two)")
	f.IntVar(&o.workers, "workers", 0, "goroutines per launch for the cpu backend")
	f.BoolVar(&o.exclusive, "exclusive", false, "write the exclusive scan instead")
	f.BoolVar(&o.verify, "verify", false, "check the result against a sequential sum")
	f.DurationVar(&o.timeout, "read-timeout", def.ReadTimeout, "device readback timeout")
	return cmd
}

func run(stdin io.Reader, stdout, stderr io.Writer, o runOptions) error {
	in := stdin
	if o.in != "" {
		fh, err := os.Open(o.in)
		if err != nil {
			return err
		}
		defer fh.Close()
		in = fh
	}
	values, err := seqio.Read(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	x := pods.NewContext(detector.DetectCPU()).WithWorkers(o.workers)
	if o.blockSize > 0 {
		x.BlockSize = o.blockSize
	}
	if o.backend != "cpu" {
		hooks, err := pods.NewHooks(o.backend, pods.BackendConfig{
			Workers:     o.workers,
			BlockSize:   x.BlockSize,
			Vendor:      o.vendor,
			Fallback:    o.fallback,
			ReadTimeout: o.timeout,
		})
		if err != nil {
			return err
		}
		defer hooks.Close()
		x.WithGPU(hooks)
	}

	res, err := pods.ScanPod{}.Run(x, pods.ScanIn{In: values, Inclusive: !o.exclusive})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	scanned := res.(pods.ScanOut)
	fmt.Fprintf(stderr, "Using backend: %s (block size %d, %d levels)\n",
		scanned.Backend, x.BlockSize, scan.Levels(len(values), x.BlockSize))

	if o.verify {
		if err := verify(values, scanned.Out, o.exclusive); err != nil {
			return err
		}
	}

	out := stdout
	if o.out != "" {
		fh, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer fh.Close()
		out = fh
	}
	if err := seqio.Write(out, scanned.Out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintln(stderr, "finished")
	return nil
}

var errVerify = errors.New("verification failed")

// verify compares against the sequential sum. The tolerance covers the
// reassociation error of a float64 tree sum but stays below half of the
// last printed decimal, so any difference visible at three decimals fails.
func verify(values, got []float64, exclusive bool) error {
	want := scan.Naive(values)
	if exclusive {
		want = scan.BlockOffsets(want)
	}
	var mag float64
	for i := range want {
		mag += abs(values[i])
		tol := max(min(1e-9*mag, 5e-4), 1e-13*mag)
		if d := abs(want[i] - got[i]); d > tol {
			return fmt.Errorf("%w at %d: expected %.3f, got %.3f", errVerify, i, want[i], got[i])
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func newDetectCmd() *cobra.Command {
	cfg := gpu.DefaultConfig()
	var cpuOnly bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Print a JSON report of the selected adapter and the host CPU",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s string
			var err error
			if cpuOnly {
				s, err = detector.DetectCPU().JSON()
			} else {
				s, err = detector.DetectJSON(cfg)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Vendor, "vendor", cfg.Vendor, "adapter name/vendor substring")
	f.BoolVar(&cfg.Fallback, "fallback", false, "use any adapter when none matches --vendor")
	f.BoolVar(&cpuOnly, "cpu-only", false, "skip the GPU probe")
	return cmd
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range pods.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
