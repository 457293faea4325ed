package matcher

import (
	"math"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Calibrate turns similarities into a temperature-scaled softmax over the
// given shortlist. The result sums to 1 and is relative to the shortlist
// only. Temperature is clamped to [0.001, 5].
func Calibrate(sims []float64, temperature float64) []float64 {
	if len(sims) == 0 {
		return nil
	}
	t := utils.Clamp(temperature, 0.001, 5)
	maxSim := sims[0]
	for _, v := range sims[1:] {
		maxSim = math.Max(maxSim, v)
	}
	out := make([]float64, len(sims))
	var sum float64
	for i, v := range sims {
		out[i] = math.Exp((v - maxSim) / t)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Margin is the cosine gap between the first and second match.
func Margin(matches []*models.MatchResult) float64 {
	if len(matches) < 2 {
		return 0
	}
	return matches[0].Similarity - matches[1].Similarity
}
