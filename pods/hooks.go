package pods

import (
	"fmt"

	"github.com/openfluke/loomscan/scan"
)

// GPUHooks describes the optional device backend. Keep it slice-based so CPU fallback is easy.
type GPUHooks interface {
	DispatchScanF64(in []float64, inclusive bool) ([]float64, error)
	Close()
}

// NoGPU satisfies GPUHooks and fails every dispatch with ErrNoGPU.
type NoGPU struct{}

func (NoGPU) DispatchScanF64([]float64, bool) ([]float64, error) { return nil, ErrNoGPU }
func (NoGPU) Close()                                             {}

// ScannerHooks runs dispatches through a scan.Scanner over any backend.
type ScannerHooks struct {
	Scanner *scan.Scanner
	closer  func()
}

func (h *ScannerHooks) DispatchScanF64(in []float64, inclusive bool) ([]float64, error) {
	if inclusive {
		return h.Scanner.Scan(in)
	}
	return h.Scanner.ScanExclusive(in)
}

func (h *ScannerHooks) Close() {
	if h.closer != nil {
		h.closer()
		h.closer = nil
	}
}

// NewHooks opens the named backend from the registry and wraps a scanner
// over it in GPUHooks. Close releases the backend.
func NewHooks(name string, cfg BackendConfig) (*ScannerHooks, error) {
	s, closeFn, err := Open(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("hooks %s: %w", name, err)
	}
	return &ScannerHooks{Scanner: s, closer: closeFn}, nil
}

// NewWGPU opens the WebGPU backend selected by cfg.Vendor/cfg.Fallback and
// wraps a device scanner for cfg.BlockSize in GPUHooks.
func NewWGPU(cfg BackendConfig) (*ScannerHooks, error) {
	return NewHooks("gpu", cfg)
}
