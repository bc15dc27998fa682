// Package embeddings provides vector helpers for face embeddings: L2
// normalization, similarity and a compact binary encoding.
package embeddings

import (
	"math"
)

// NormalizeL2 scales vector to unit length in place. A zero vector is left unchanged.
func NormalizeL2(vector []float32) {
	magnitude := Magnitude(vector)
	if magnitude == 0 {
		return
	}

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// Magnitude returns the L2 norm of vector, accumulated in float64.
func Magnitude(vector []float32) float64 {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	return math.Sqrt(sumSquares)
}
