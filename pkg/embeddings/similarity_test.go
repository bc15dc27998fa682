package embeddings

import (
	"errors"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, want: -1},
		{name: "scale invariant", a: []float32{1, 2}, b: []float32{2, 4}, want: 1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1}, []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestDistance(t *testing.T) {
	got, err := Distance([]float32{0, 0}, []float32{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-5) > 1e-6 {
		t.Errorf("Distance() = %f, want 5", got)
	}

	if _, err := Distance([]float32{1, 2, 3}, []float32{1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.125, 0}

	buf := Encode(vec)
	if len(buf) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(buf))
	}
	// 0.25 is 0x3e800000
	if buf[0] != 0x00 || buf[3] != 0x3e {
		t.Errorf("expected little-endian layout, got % x", buf[:4])
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("got[%d] = %f, want %f", i, got[i], vec[i])
		}
	}

	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated buffer")
	}
}
