package scoring

import (
	"math/rand"

	"github.com/mbti-rec/server/pkg/models"
)

// RandomVector derives a deterministic pseudo-random MBTI vector from a
// content id, so repeat calls for the same item yield the same result
// (§4.4 random path): four independent uniforms in [0.2, 0.8] for E, S, T,
// J, with I, N, F, P as their complements.
func RandomVector(contentID int64) models.MBTIVector {
	r := rand.New(rand.NewSource(contentID))

	e := uniform(r)
	s := uniform(r)
	t := uniform(r)
	j := uniform(r)

	return models.MBTIVector{
		E: e, I: 1 - e,
		S: s, N: 1 - s,
		T: t, F: 1 - t,
		J: j, P: 1 - j,
	}
}

// uniform samples a float64 in [0.2, 0.8].
func uniform(r *rand.Rand) float64 {
	return 0.2 + r.Float64()*0.6
}
