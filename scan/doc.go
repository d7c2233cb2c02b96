// Package scan computes prefix sums of arbitrarily long sequences on a
// backend that can only scan a bounded block of elements per superstep.
//
// Usage:
//
//	s, err := scan.NewScanner(scan.NewCPUBackend(scan.WithWorkers(8)))
//	if err != nil {
//	    return err
//	}
//	out, err := s.Scan(values) // out[i] = values[0] + ... + values[i]
//
// The same Scanner runs unchanged on the WebGPU backend in package gpu.
package scan
