package gpu

import "errors"

var (
	// ErrNoAdapter means no usable adapter/device could be opened.
	ErrNoAdapter = errors.New("gpu: no usable adapter")

	// ErrShaderBuild wraps WGSL compilation and pipeline creation failures;
	// the wrapped message carries the compiler log.
	ErrShaderBuild = errors.New("gpu: shader build failed")

	// ErrReadTimeout means a readback buffer never finished mapping.
	ErrReadTimeout = errors.New("gpu: buffer readback timed out")
)
