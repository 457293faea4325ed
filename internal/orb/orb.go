// Package orb implements oriented FAST keypoints with rotated BRIEF descriptors
// and the ratio-tested Hamming matching used to re-rank question candidates.
package orb

import (
	"image"
	"math"
	"sort"

	"github.com/hyperjump/kotae/internal/imageutil"
)

const (
	fastThreshold = 20
	harrisK       = 0.04
	harrisRadius  = 3
	patchRadius   = 15
	// edgeMargin keeps every orientation patch and rotated BRIEF sample inside the level.
	edgeMargin  = 19
	scaleFactor = 1.2
	numLevels   = 8
	// blurSigma is the Gaussian applied to a level before descriptor sampling.
	blurSigma = 2
)

// Keypoint is an oriented corner. X and Y are in the coordinates of the input image.
type Keypoint struct {
	X, Y     float64
	Level    int
	Angle    float64
	Response float64
}

// Descriptor is a 256-bit rotated BRIEF descriptor.
type Descriptor [descriptorBits / 64]uint64

// DetectAndCompute finds up to nfeatures oriented keypoints on img across a
// scale pyramid and computes their descriptors.
func DetectAndCompute(img *image.Gray, nfeatures int) ([]Keypoint, []Descriptor) {
	if img == nil || nfeatures <= 0 {
		return nil, nil
	}
	base := imageutil.PlaneOf(img)
	levels := pyramid(base)
	if len(levels) == 0 {
		return nil, nil
	}
	quota := featuresPerLevel(nfeatures, len(levels))

	var kps []Keypoint
	var descs []Descriptor
	for l, lvl := range levels {
		if quota[l] == 0 {
			continue
		}
		corners := detectFAST(lvl, fastThreshold, edgeMargin)
		for i := range corners {
			corners[i].response = harris(lvl, corners[i].x, corners[i].y)
		}
		sort.SliceStable(corners, func(i, j int) bool {
			return corners[i].response > corners[j].response
		})
		if len(corners) > quota[l] {
			corners = corners[:quota[l]]
		}
		if len(corners) == 0 {
			continue
		}

		smooth := lvl.Blur(blurSigma)
		scale := math.Pow(scaleFactor, float64(l))
		for _, c := range corners {
			angle := orientation(lvl, c.x, c.y)
			kps = append(kps, Keypoint{
				X:        float64(c.x) * scale,
				Y:        float64(c.y) * scale,
				Level:    l,
				Angle:    angle,
				Response: c.response,
			})
			descs = append(descs, describe(smooth, c.x, c.y, angle))
		}
	}
	return kps, descs
}

func pyramid(base *imageutil.Plane) []*imageutil.Plane {
	minSide := 2*edgeMargin + 1
	if base.W < minSide || base.H < minSide {
		return nil
	}
	levels := []*imageutil.Plane{base}
	for l := 1; l < numLevels; l++ {
		s := math.Pow(scaleFactor, float64(l))
		w := int(math.Round(float64(base.W) / s))
		h := int(math.Round(float64(base.H) / s))
		if w < minSide || h < minSide {
			break
		}
		levels = append(levels, base.Resize(w, h))
	}
	return levels
}

// featuresPerLevel splits nfeatures geometrically across levels, the last
// level taking the remainder.
func featuresPerLevel(nfeatures, nlevels int) []int {
	factor := 1 / scaleFactor
	per := float64(nfeatures) * (1 - factor) / (1 - math.Pow(factor, float64(nlevels)))
	out := make([]int, nlevels)
	sum := 0
	for l := 0; l < nlevels-1; l++ {
		out[l] = int(math.Round(per))
		sum += out[l]
		per *= factor
	}
	out[nlevels-1] = max(nfeatures-sum, 0)
	return out
}

type corner struct {
	x, y     int
	score    int
	response float64
}

var circle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// detectFAST runs FAST-9 inside the margin and keeps 3x3 local maxima of the
// corner score.
func detectFAST(p *imageutil.Plane, threshold, margin int) []corner {
	if p.W <= 2*margin || p.H <= 2*margin {
		return nil
	}
	scores := make([]int, p.W*p.H)
	for y := margin; y < p.H-margin; y++ {
		for x := margin; x < p.W-margin; x++ {
			scores[y*p.W+x] = fastScore(p, x, y, threshold)
		}
	}

	var out []corner
	for y := margin; y < p.H-margin; y++ {
		for x := margin; x < p.W-margin; x++ {
			i := y*p.W + x
			s := scores[i]
			if s == 0 {
				continue
			}
			keep := true
			for dy := -1; dy <= 1 && keep; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					j := i + dy*p.W + dx
					n := scores[j]
					// earlier pixels must be strictly weaker, later ones may tie
					if n > s || (n == s && j < i) {
						keep = false
						break
					}
				}
			}
			if keep {
				out = append(out, corner{x: x, y: y, score: s})
			}
		}
	}
	return out
}

// fastScore returns 0 when (x, y) is not a FAST-9 corner, otherwise the sum of
// absolute differences beyond the threshold over the contiguous arc class.
func fastScore(p *imageutil.Plane, x, y, t int) int {
	c := int(p.At(x, y))
	hi, lo := c+t, c-t

	bright, dark := 0, 0
	for k := 0; k < 16; k += 4 {
		v := int(p.At(x+circle[k][0], y+circle[k][1]))
		if v > hi {
			bright++
		} else if v < lo {
			dark++
		}
	}
	if bright < 2 && dark < 2 {
		return 0
	}

	var vals [16]int
	for k := range circle {
		vals[k] = int(p.At(x+circle[k][0], y+circle[k][1]))
	}

	isCorner := func(pred func(v int) bool) bool {
		run := 0
		for k := 0; k < 32; k++ {
			if pred(vals[k%16]) {
				run++
				if run >= 9 {
					return true
				}
			} else {
				run = 0
			}
		}
		return false
	}

	score := 0
	switch {
	case isCorner(func(v int) bool { return v > hi }):
		for _, v := range vals {
			if v > hi {
				score += v - hi
			}
		}
	case isCorner(func(v int) bool { return v < lo }):
		for _, v := range vals {
			if v < lo {
				score += lo - v
			}
		}
	default:
		return 0
	}
	return max(score, 1)
}

// harris computes the Harris corner response over a 7x7 block of Sobel gradients.
func harris(p *imageutil.Plane, x, y int) float64 {
	var a, b, c float64
	for dy := -harrisRadius; dy <= harrisRadius; dy++ {
		for dx := -harrisRadius; dx <= harrisRadius; dx++ {
			px, py := x+dx, y+dy
			ix := float64(int(p.At(px+1, py-1)) + 2*int(p.At(px+1, py)) + int(p.At(px+1, py+1)) -
				int(p.At(px-1, py-1)) - 2*int(p.At(px-1, py)) - int(p.At(px-1, py+1)))
			iy := float64(int(p.At(px-1, py+1)) + 2*int(p.At(px, py+1)) + int(p.At(px+1, py+1)) -
				int(p.At(px-1, py-1)) - 2*int(p.At(px, py-1)) - int(p.At(px+1, py-1)))
			a += ix * ix
			b += iy * iy
			c += ix * iy
		}
	}
	return a*b - c*c - harrisK*(a+b)*(a+b)
}

// orientation is the angle of the intensity centroid within a circular patch.
func orientation(p *imageutil.Plane, x, y int) float64 {
	var m01, m10 float64
	r2 := patchRadius * patchRadius
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := float64(p.At(x+dx, y+dy))
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

// describe samples the steered BRIEF pattern on the smoothed level.
func describe(p *imageutil.Plane, x, y int, angle float64) Descriptor {
	cos, sin := math.Cos(angle), math.Sin(angle)
	sample := func(px, py int8) uint8 {
		fx, fy := float64(px), float64(py)
		rx := int(math.Round(fx*cos - fy*sin))
		ry := int(math.Round(fx*sin + fy*cos))
		return p.At(x+rx, y+ry)
	}
	var d Descriptor
	for i, pr := range pattern {
		if sample(pr.x1, pr.y1) < sample(pr.x2, pr.y2) {
			d[i/64] |= 1 << uint(i%64)
		}
	}
	return d
}
