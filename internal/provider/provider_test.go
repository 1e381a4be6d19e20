package provider

import (
	"bytes"
	"io"
	"testing"
)

func TestMonotonicProgress_ClampsAndNeverDecreases(t *testing.T) {
	var seen []float64
	progress := MonotonicProgress(func(p float64) { seen = append(seen, p) })

	for _, p := range []float64{-5, 10, 30, 20, 30, 70, 150} {
		progress(p)
	}

	want := []float64{0, 10, 30, 30, 70, 100}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestMonotonicProgress_NilSink(t *testing.T) {
	if MonotonicProgress(nil) != nil {
		t.Error("wrapping a nil sink should stay nil")
	}
}

func TestProgressFunc_NilReportSafe(t *testing.T) {
	var fn ProgressFunc
	fn.report(50) // must not panic
}

func TestProgressReader_ReportsFractions(t *testing.T) {
	data := make([]byte, 1000)
	var fractions []float64
	pr := &progressReader{
		r:      bytes.NewReader(data),
		total:  int64(len(data)),
		report: func(f float64) { fractions = append(fractions, f) },
	}

	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	if len(fractions) == 0 {
		t.Fatal("expected progress reports")
	}
	last := fractions[len(fractions)-1]
	if last != 1.0 {
		t.Errorf("final fraction = %v, want 1.0", last)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("fractions decreased at %d: %v", i, fractions)
		}
	}
}

func TestMediaSize(t *testing.T) {
	m := Media{Data: make([]byte, 42)}
	if m.Size() != 42 {
		t.Errorf("Size = %d, want 42", m.Size())
	}
}
