package roi

import "github.com/hyperjump/kotae/internal/imageutil"

// thresholdInv marks pixels at or below t as foreground (255).
func thresholdInv(p *imageutil.Plane, t int) *imageutil.Plane {
	out := imageutil.NewPlane(p.W, p.H)
	for i, v := range p.Pix {
		if int(v) <= t {
			out.Pix[i] = 255
		}
	}
	return out
}

// mass is the sum of mask values.
func mass(p *imageutil.Plane) int {
	n := 0
	for _, v := range p.Pix {
		n += int(v)
	}
	return n
}

// otsu returns the threshold maximizing between-class variance. Ties keep the
// lowest threshold, so a uniform plane yields 0.
func otsu(p *imageutil.Plane) int {
	var hist [256]int
	for _, v := range p.Pix {
		hist[v]++
	}
	total := float64(len(p.Pix))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var wB, sumB float64
	best, bestVar := 0, 0.0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar, best = between, t
		}
	}
	return best
}

// erode and dilate use a 3x3 square; pixels outside the plane are ignored.
func erode(p *imageutil.Plane) *imageutil.Plane {
	return morph(p, func(a, b uint8) bool { return b < a })
}

func dilate(p *imageutil.Plane) *imageutil.Plane {
	return morph(p, func(a, b uint8) bool { return b > a })
}

func morph(p *imageutil.Plane, better func(a, b uint8) bool) *imageutil.Plane {
	out := imageutil.NewPlane(p.W, p.H)
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			v := p.At(x, y)
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= p.H {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= p.W {
						continue
					}
					if n := p.At(nx, ny); better(v, n) {
						v = n
					}
				}
			}
			out.Pix[y*p.W+x] = v
		}
	}
	return out
}

// opening removes specks smaller than the structuring element.
func opening(p *imageutil.Plane) *imageutil.Plane {
	return dilate(erode(p))
}

// closing fills pinholes smaller than the structuring element.
func closing(p *imageutil.Plane) *imageutil.Plane {
	return erode(dilate(p))
}
