package pods

import "errors"

// Single canonical errors used across CPU/GPU paths.
var (
	ErrNoGPU       = errors.New("pods: gpu unavailable (no device backend opened)")
	ErrUnknownKind = errors.New("pods: unknown reduce kind")
	ErrBadInput    = errors.New("pods: unexpected pod input")
)
