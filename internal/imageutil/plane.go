package imageutil

import (
	"image"

	"github.com/disintegration/imaging"
)

// Plane is a row-major 8-bit grayscale buffer anchored at the origin. It is
// the sampling surface for ROI masks and ORB pyramid levels.
type Plane struct {
	W, H int
	Pix  []uint8
}

// NewPlane returns a zeroed w x h plane.
func NewPlane(w, h int) *Plane {
	return &Plane{W: w, H: h, Pix: make([]uint8, w*h)}
}

// PlaneOf copies the grayscale version of img into a plane.
func PlaneOf(img image.Image) *Plane {
	g := ToGray(img)
	b := g.Bounds()
	p := NewPlane(b.Dx(), b.Dy())
	for y := 0; y < p.H; y++ {
		off := y * g.Stride
		copy(p.Pix[y*p.W:(y+1)*p.W], g.Pix[off:off+p.W])
	}
	return p
}

// At returns the value at (x, y). Coordinates must be inside the plane.
func (p *Plane) At(x, y int) uint8 {
	return p.Pix[y*p.W+x]
}

// Gray returns an image.Gray sharing the plane's pixels.
func (p *Plane) Gray() *image.Gray {
	return &image.Gray{Pix: p.Pix, Stride: p.W, Rect: image.Rect(0, 0, p.W, p.H)}
}

// Resize scales the plane to w x h with bilinear filtering.
func (p *Plane) Resize(w, h int) *Plane {
	return PlaneOf(imaging.Resize(p.Gray(), w, h, imaging.Linear))
}

// Blur applies a Gaussian blur with the given sigma.
func (p *Plane) Blur(sigma float64) *Plane {
	return PlaneOf(imaging.Blur(p.Gray(), sigma))
}

// Window returns a copy of the top-left w x h part of the plane.
func (p *Plane) Window(w, h int) *Plane {
	w, h = min(w, p.W), min(h, p.H)
	out := NewPlane(w, h)
	for y := 0; y < h; y++ {
		copy(out.Pix[y*w:(y+1)*w], p.Pix[y*p.W:y*p.W+w])
	}
	return out
}
