// Package imageutil decodes question images and provides the crops, grayscale
// planes and augmentations shared by the embedding and re-ranking stages.
package imageutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Open decodes the image at path, applying EXIF orientation.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// ToNRGBA returns img as an NRGBA image anchored at the origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// ToGray converts img to an 8-bit grayscale image anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Rect, img, b.Min, draw.Src)
	return gray
}

// Crop returns the part of img inside r, anchored at the origin.
func Crop(img image.Image, r image.Rectangle) *image.NRGBA {
	return imaging.Crop(img, r)
}

// FocusRect returns the fallback crop rectangle for bounds: a ratio-sized
// rectangle anchored at the top-left corner, or centered when anchor is "center".
func FocusRect(bounds image.Rectangle, anchor string, ratio float64) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	cw, ch := int(float64(w)*ratio), int(float64(h)*ratio)
	left, top := 0, 0
	if anchor == "center" {
		left = (w - cw) / 2
		top = (h - ch) / 2
	}
	right := min(w, left+cw)
	bottom := min(h, top+ch)
	return image.Rect(left, top, right, bottom).Add(bounds.Min)
}

var (
	augmentAngles = []float64{-10, -5, 5, 10}
	augmentScales = []float64{0.9, 1.1}
)

// Augment returns img followed by its rotated and scaled variants. Rotations fill
// with white and keep the original size; scaling down pads with white and scaling
// up center-crops back to the original size.
func Augment(img image.Image) []image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]image.Image, 0, 1+len(augmentAngles)+len(augmentScales))
	out = append(out, img)

	for _, angle := range augmentAngles {
		rotated := imaging.Rotate(img, angle, color.White)
		out = append(out, imaging.CropCenter(rotated, w, h))
	}

	for _, s := range augmentScales {
		nw, nh := int(float64(w)*s), int(float64(h)*s)
		if nw < 1 || nh < 1 {
			continue
		}
		scaled := imaging.Resize(img, nw, nh, imaging.Lanczos)
		if s > 1 {
			out = append(out, imaging.CropCenter(scaled, w, h))
			continue
		}
		canvas := imaging.New(w, h, color.White)
		out = append(out, imaging.PasteCenter(canvas, scaled))
	}
	return out
}
