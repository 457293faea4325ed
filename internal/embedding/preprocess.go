package embedding

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/hyperjump/kotae/internal/imageutil"
)

// CLIP image normalization constants.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess resizes the shorter side of img to size with bicubic filtering,
// center-crops to size x size and returns the normalized RGB pixels in CHW order.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	var resized *image.NRGBA
	if b.Dx() <= b.Dy() {
		resized = imaging.Resize(img, size, 0, imaging.CatmullRom)
	} else {
		resized = imaging.Resize(img, 0, size, imaging.CatmullRom)
	}
	cropped := imageutil.ToNRGBA(imaging.CropCenter(resized, size, size))

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := cropped.Pix[y*cropped.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
