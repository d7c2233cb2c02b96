// Package seqio reads and writes the plain-text sequence format of the
// loomscan command: a count followed by that many whitespace-separated reals.
package seqio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrMalformedInput reports a bad count, a bad value, or a value count mismatch.
var ErrMalformedInput = errors.New("seqio: malformed input")

// Read parses a count N and exactly N values. Missing values, extra tokens and
// anything that does not parse are reported as ErrMalformedInput.
func Read(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing count", ErrMalformedInput)
	}
	n, err := strconv.Atoi(sc.Text())
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad count %q", ErrMalformedInput, sc.Text())
	}

	values := make([]float64, 0, min(n, 1<<20))
	for len(values) < n {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedInput, n, len(values))
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %q", ErrMalformedInput, len(values), sc.Text())
		}
		values = append(values, v)
	}
	if sc.Scan() {
		return nil, fmt.Errorf("%w: trailing token %q after %d values", ErrMalformedInput, sc.Text(), n)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// Write prints every value with three decimals followed by a space, then a
// newline.
func Write(w io.Writer, values []float64) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for _, v := range values {
		buf = strconv.AppendFloat(buf[:0], v, 'f', 3, 64)
		buf = append(buf, ' ')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}
