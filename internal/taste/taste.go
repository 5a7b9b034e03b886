// Package taste derives taste vectors for catalog entities and blends them for profiles.
// Every function is pure; callers persist the results.
package taste

import (
	"github.com/turri/tastehub/internal/models"
)

// Alpha is the weight kept from the stored profile when a new signal is fused in.
const Alpha = 0.8

// ForLabels returns a 1/0 indicator per taste key: 1 when the key is among names.
func ForLabels(names []string) models.TasteVector {
	v := models.ZeroTaste()

	for _, name := range names {
		if i, ok := models.TasteIndex(name); ok {
			v[i] = 1
		}
	}

	return v
}

// ForProduct returns the indicator vector over the product's tag and category names.
func ForProduct(p models.Product) models.TasteVector {
	names := make([]string, 0, len(p.TagNames)+len(p.CategoryNames))
	names = append(names, p.TagNames...)
	names = append(names, p.CategoryNames...)

	return ForLabels(names)
}

// ForProducer returns the element-wise mean of the producer's product vectors,
// or the zero vector when it owns no products.
func ForProducer(products []models.TasteVector) models.TasteVector {
	return Mean(products)
}

// Mean returns the element-wise mean of vectors. Vectors of the wrong length are ignored.
// An empty input yields the zero vector.
func Mean(vectors []models.TasteVector) models.TasteVector {
	out := models.ZeroTaste()

	n := 0

	for _, v := range vectors {
		if len(v) != models.TasteDims {
			continue
		}

		for i, x := range v {
			out[i] += x
		}

		n++
	}

	if n == 0 {
		return out
	}

	for i := range out {
		out[i] /= float64(n)
	}

	return out
}

// Blend returns old*alpha + incoming*(1-alpha) element-wise.
// A nil or wrong-length old vector is treated as all-zero.
func Blend(old, incoming models.TasteVector, alpha float64) models.TasteVector {
	out := models.ZeroTaste()

	for i := range out {
		var o, n float64
		if i < len(old) {
			o = old[i]
		}

		if i < len(incoming) {
			n = incoming[i]
		}

		out[i] = o*alpha + n*(1-alpha)
	}

	return out
}
