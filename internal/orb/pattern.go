package orb

import (
	"math"
	"math/rand"
)

const (
	descriptorBits = 256
	patternSeed    = 0x0b5e55ed
	// patternClamp bounds sample offsets so rotated pairs stay inside the edge margin.
	patternClamp = 13
)

type samplePair struct {
	x1, y1, x2, y2 int8
}

// pattern holds the BRIEF test pairs, drawn once from an isotropic Gaussian
// with sigma = patch/5 around the keypoint.
var pattern = generatePattern(descriptorBits, patternSeed)

func generatePattern(n int, seed int64) []samplePair {
	rng := rand.New(rand.NewSource(seed))
	sigma := 31.0 / 5
	draw := func() int8 {
		v := math.Round(rng.NormFloat64() * sigma)
		v = math.Max(-patternClamp, math.Min(patternClamp, v))
		return int8(v)
	}
	out := make([]samplePair, n)
	for i := range out {
		p := samplePair{x1: draw(), y1: draw(), x2: draw(), y2: draw()}
		for p.x1 == p.x2 && p.y1 == p.y2 {
			p.x2, p.y2 = draw(), draw()
		}
		out[i] = p
	}
	return out
}
