package seqio

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRead(t *testing.T) {
	got, err := Read(strings.NewReader("4\n1 2.5\n-3\t1e2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2.5, -3, 100}, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEmpty(t *testing.T) {
	got, err := Read(strings.NewReader("0"))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}

func TestReadMalformed(t *testing.T) {
	cases := map[string]string{
		"no count":       "",
		"bad count":      "four 1 2 3 4",
		"negative count": "-1",
		"too few":        "3 1 2",
		"not a number":   "2 1 x",
		"trailing":       "2 1 2 3",
	}
	for name, in := range cases {
		_, err := Read(strings.NewReader(in))
		if !errors.Is(err, ErrMalformedInput) {
			t.Errorf("%s: expected ErrMalformedInput, got %v", name, err)
			continue
		}
		if !strings.HasPrefix(err.Error(), "seqio: malformed input") {
			t.Errorf("%s: expected package-prefixed message, got %q", name, err.Error())
		}
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, []float64{1, 3.14159, -0.5}); err != nil {
		t.Fatal(err)
	}
	if want := "1.000 3.142 -0.500 \n"; buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	if err := Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\n" {
		t.Errorf("Expected lone newline, got %q", buf.String())
	}
}
