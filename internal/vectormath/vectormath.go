// Package vectormath implements the MBTI vector algebra of the recommendation
// engine: normalization, type-label derivation, cosine similarity, and
// weighted blending. It mirrors the cosine/normalize style of the teacher's
// internal/services/diversity_filter.go and the gonum usage of
// internal/ml/multimodal_fusion.go, generalized to the 8-dimensional,
// pair-constrained MBTI space instead of free-form embeddings.
package vectormath

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/mbti-rec/server/pkg/models"
)

// pairTolerance is the §3/§8 tolerance for |p(first) + p(second) - 1.0|.
const pairTolerance = 1e-2

// Normalize scales each pair to sum to 1.0, or sets both to 0.5 if the pair
// sums to zero. Idempotent: Normalize(Normalize(v)) == Normalize(v).
func Normalize(v models.MBTIVector) models.MBTIVector {
	out := v
	normalizePair(&out.E, &out.I)
	normalizePair(&out.S, &out.N)
	normalizePair(&out.T, &out.F)
	normalizePair(&out.J, &out.P)
	return out
}

func normalizePair(a, b *float64) {
	sum := *a + *b
	if sum <= 0 {
		*a, *b = 0.5, 0.5
		return
	}
	*a, *b = *a/sum, *b/sum
}

// TypeLabel derives the 4-letter MBTI code from a vector, breaking ties
// deterministically toward the first-listed trait of each pair (E, S, T, J).
func TypeLabel(v models.MBTIVector) string {
	label := make([]byte, 0, 4)
	for _, pair := range models.Pairs {
		first := v.Get(pair.First)
		second := v.Get(pair.Second)
		if first >= second {
			label = append(label, byte(pair.First[0]))
		} else {
			label = append(label, byte(pair.Second[0]))
		}
	}
	return string(label)
}

// Cosine computes the standard cosine similarity over the 8-dim vector.
// A zero-norm input yields 0.
func Cosine(a, b models.MBTIVector) float64 {
	as, bs := a.Slice(), b.Slice()
	normA := floats.Norm(as, 2)
	normB := floats.Norm(bs, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	dot := floats.Dot(as, bs)
	cos := dot / (normA * normB)
	// Clamp floating point drift outside [-1, 1].
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return cos
}

// Blend computes the weighted average of vs (by ws) and normalizes the
// result. Empty input, or all-zero weights, returns the neutral vector —
// Blend never fails (§4.1).
func Blend(vs []models.MBTIVector, ws []float64) models.MBTIVector {
	if len(vs) == 0 || len(vs) != len(ws) {
		return models.NeutralVector()
	}

	var totalWeight float64
	for _, w := range ws {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight <= 0 {
		return models.NeutralVector()
	}

	sum := make([]float64, 8)
	for i, v := range vs {
		w := ws[i]
		if w <= 0 {
			continue
		}
		floats.AddScaled(sum, w, v.Slice())
	}
	floats.Scale(1/totalWeight, sum)

	return Normalize(models.FromSlice(sum))
}

// ConfidenceOf returns the per-pair |Δ| confidence of a vector (§3).
func ConfidenceOf(v models.MBTIVector) models.Confidence {
	return models.Confidence{
		EI: math.Abs(v.E - v.I),
		SN: math.Abs(v.S - v.N),
		TF: math.Abs(v.T - v.F),
		JP: math.Abs(v.J - v.P),
	}
}

// WithinTolerance reports whether every pair of v sums to 1.0 within the
// §8 tolerance — used by the vectormath and scoring tests.
func WithinTolerance(v models.MBTIVector) bool {
	for _, pair := range models.Pairs {
		sum := v.Get(pair.First) + v.Get(pair.Second)
		if math.Abs(sum-1.0) >= pairTolerance {
			return false
		}
	}
	return true
}

// Projected4 returns the dominant-side value of each axis in E,S,T,J order,
// the reduced vector the recommender ranks on (§4.6 step 1, §9 redesign
// choice: 4-axis projection for serve-time cosine, 8-dim for storage).
func Projected4(v models.MBTIVector) models.MBTIVector {
	return models.MBTIVector{
		E: dominant(v.E, v.I), I: 0,
		S: dominant(v.S, v.N), N: 0,
		T: dominant(v.T, v.F), F: 0,
		J: dominant(v.J, v.P), P: 0,
	}
}

func dominant(a, b float64) float64 {
	if a >= b {
		return a
	}
	return b
}
