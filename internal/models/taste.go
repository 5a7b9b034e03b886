package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/turri/tastehub/internal/huberrors"
	"golang.org/x/text/unicode/norm"
)

// TasteKeys is the ordered list of taste categories tracked for every product, producer and customer.
// Index i of a TasteVector is the weight for TasteKeys[i].
var TasteKeys = []string{
	"Gourmet",
	"Orgánico",
	"Saludable",
	"Sin",
	"Sostenible",
	"Tradicional",
	"Café",
	"Bebidas",
	"Dulces",
	"Lácteos",
	"Huevos",
	"Queso Turrialba",
	"Salsas",
}

// TasteDims is the length of every TasteVector.
var TasteDims = len(TasteKeys)

// Validation reasons reported in huberrors.Issue.Reason.
const (
	ReasonMissing    = "missing"
	ReasonNotNumeric = "not_numeric"
	ReasonOutOfRange = "out_of_range"
	ReasonLength     = "length"
)

var tasteIndex = func() map[string]int {
	idx := make(map[string]int, len(TasteKeys))
	for i, k := range TasteKeys {
		idx[NormalizeLabel(k)] = i
	}

	return idx
}()

// NormalizeLabel returns the NFC form of a category label so composed and decomposed accents compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(label)
}

// TasteIndex returns the position of label in TasteKeys.
func TasteIndex(label string) (int, bool) {
	i, ok := tasteIndex[NormalizeLabel(label)]

	return i, ok
}

// TasteVector holds one weight in [0,1] per taste key.
type TasteVector []float64

// ZeroTaste returns an all-zero vector of length TasteDims.
func ZeroTaste() TasteVector {
	return make(TasteVector, TasteDims)
}

// Clone returns a copy of v.
func (v TasteVector) Clone() TasteVector {
	if v == nil {
		return nil
	}

	out := make(TasteVector, len(v))
	copy(out, v)

	return out
}

// Float32 converts v for storage in a pgvector column.
func (v TasteVector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}

	return out
}

// TasteFromFloat32 converts a stored vector back into a TasteVector.
func TasteFromFloat32(v []float32) TasteVector {
	if v == nil {
		return nil
	}

	out := make(TasteVector, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}

	return out
}

// Map returns v keyed by taste label.
func (v TasteVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v))
	for i, x := range v {
		if i < len(TasteKeys) {
			m[TasteKeys[i]] = x
		}
	}

	return m
}

// MarshalJSON encodes the vector as an object keyed by taste label.
func (v TasteVector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	return json.Marshal(v.Map())
}

// Validate checks length, finiteness and the [0,1] range, reporting every offending position.
func (v TasteVector) Validate() error {
	if len(v) != TasteDims {
		return huberrors.NewIssuesError("invalid taste vector", []huberrors.Issue{{
			Field:  "taste",
			Value:  len(v),
			Reason: ReasonLength,
		}})
	}

	var issues []huberrors.Issue

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			issues = append(issues, huberrors.Issue{Field: TasteKeys[i], Reason: ReasonNotNumeric})

			continue
		}

		if x < 0 || x > 1 {
			issues = append(issues, huberrors.Issue{Field: TasteKeys[i], Value: x, Reason: ReasonOutOfRange})
		}
	}

	if len(issues) > 0 {
		return huberrors.NewIssuesError("invalid taste vector", issues)
	}

	return nil
}

// ParseTasteVector builds a TasteVector from a label-keyed map, usually decoded JSON.
// Every taste key must be present, and every value, including those of extra labels, must be
// numeric and in [0,1]. Extra labels are otherwise ignored. All problems are reported together
// in one *huberrors.ValidationError.
func ParseTasteVector(raw map[string]any) (TasteVector, error) {
	out := ZeroTaste()
	seen := make([]bool, TasteDims)

	var issues []huberrors.Issue

	for key, value := range raw {
		i, known := TasteIndex(key)
		if known {
			seen[i] = true
			key = TasteKeys[i]
		}

		x, ok := toFloat(value)
		if !ok {
			issues = append(issues, huberrors.Issue{Field: key, Value: value, Reason: ReasonNotNumeric})

			continue
		}

		if x < 0 || x > 1 {
			issues = append(issues, huberrors.Issue{Field: key, Value: x, Reason: ReasonOutOfRange})

			continue
		}

		if known {
			out[i] = x
		}
	}

	for i, ok := range seen {
		if !ok {
			issues = append(issues, huberrors.Issue{Field: TasteKeys[i], Reason: ReasonMissing})
		}
	}

	if len(issues) > 0 {
		sort.SliceStable(issues, func(a, b int) bool {
			oa, ob := issueOrder(issues[a]), issueOrder(issues[b])
			if oa != ob {
				return oa < ob
			}

			return issues[a].Field < issues[b].Field
		})

		return nil, huberrors.NewIssuesError("invalid taste vector", issues)
	}

	return out, nil
}

// issueOrder sorts taste keys by their TasteKeys position and extra labels after them.
func issueOrder(issue huberrors.Issue) int {
	if i, ok := TasteIndex(issue.Field); ok {
		return i
	}

	return TasteDims
}

func toFloat(value any) (float64, bool) {
	var x float64

	switch n := value.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case int32:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}

		x = f
	default:
		return 0, false
	}

	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}

	return x, true
}

// String renders the vector compactly for logs.
func (v TasteVector) String() string {
	return fmt.Sprintf("%v", []float64(v))
}
