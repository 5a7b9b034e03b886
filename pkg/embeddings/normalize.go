// Package embeddings holds vector helpers shared by the embedding oracles.
package embeddings

import "math"

// NormalizeL2 scales vector in place to unit length. Distances between normalized vectors are
// at most 2, the bound the ranking penalty relies on. A zero vector is left unchanged.
func NormalizeL2(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return
	}

	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}
