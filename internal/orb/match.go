package orb

import (
	"math"
	"math/bits"
)

// MinKeypoints is the fewest keypoints either image needs for a non-zero score.
const MinKeypoints = 10

// Hamming returns the number of differing bits between a and b.
func Hamming(a, b Descriptor) int {
	n := 0
	for i := range a {
		n += bits.OnesCount64(a[i] ^ b[i])
	}
	return n
}

// GoodMatches counts query descriptors whose nearest train descriptor is closer
// than ratio times the second nearest.
func GoodMatches(query, train []Descriptor, ratio float64) int {
	if len(train) < 2 {
		return 0
	}
	good := 0
	for _, q := range query {
		best, second := math.MaxInt, math.MaxInt
		for _, t := range train {
			d := Hamming(q, t)
			if d < best {
				second, best = best, d
			} else if d < second {
				second = d
			}
		}
		if float64(best) < ratio*float64(second) {
			good++
		}
	}
	return good
}

// Score turns matched descriptor sets into a similarity in [0, 1]: the share of
// good matches relative to the smaller keypoint set. Fewer than MinKeypoints on
// either side yields 0.
func Score(query, candidate *Features, ratio float64) float64 {
	if query == nil || candidate == nil {
		return 0
	}
	n1, n2 := len(query.Keypoints), len(candidate.Keypoints)
	if n1 < MinKeypoints || n2 < MinKeypoints || len(query.Descriptors) == 0 || len(candidate.Descriptors) == 0 {
		return 0
	}
	good := GoodMatches(query.Descriptors, candidate.Descriptors, ratio)
	return math.Min(1, float64(good)/float64(min(n1, n2)))
}
