package embeddings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// Cosine returns the cosine similarity of a and b. Zero vectors score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	denom := Magnitude(a) * Magnitude(b)
	if denom == 0 {
		return 0, nil
	}

	return dot / denom, nil
}

// Distance returns the Euclidean distance between a and b.
// dlib descriptors of the same person are usually closer than 0.6.
func Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum), nil
}

// Encode packs vector as little-endian float32 values, 4 bytes per dimension.
func Encode(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}

	return buf
}

// Decode is the inverse of Encode.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("encoded embedding length %d is not a multiple of 4", len(buf))
	}

	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}

	return out, nil
}
