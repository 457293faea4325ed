package embedding

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ThumbnailEncoder is a deterministic encoder for tests and model-less runs. It
// embeds the mean-centred pixels of a small grayscale thumbnail, so identical
// images map to identical vectors and visually different ones diverge.
type ThumbnailEncoder struct {
	dimensions int
	side       int
}

// NewThumbnailEncoder returns an encoder producing vectors of the given dimensions.
func NewThumbnailEncoder(dimensions int) *ThumbnailEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	side := int(math.Sqrt(float64(dimensions)))
	return &ThumbnailEncoder{dimensions: dimensions, side: max(side, 1)}
}

// Encode returns the unit-norm thumbnail embedding of img.
func (e *ThumbnailEncoder) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	thumb := imageutil.ToGray(imaging.Resize(img, e.side, e.side, imaging.Box))

	n := e.side * e.side
	var mean float64
	for _, v := range thumb.Pix[:n] {
		mean += float64(v)
	}
	mean /= float64(n)

	emb := make([]float32, e.dimensions)
	var energy float64
	for i, v := range thumb.Pix[:n] {
		d := (float64(v) - mean) / 255
		emb[i] = float32(d)
		energy += d * d
	}
	if energy == 0 {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *ThumbnailEncoder) Dimensions() int {
	return e.dimensions
}

// Device is always the CPU.
func (e *ThumbnailEncoder) Device() Device {
	return DeviceCPU
}

// Close is a no-op for ThumbnailEncoder.
func (e *ThumbnailEncoder) Close() error {
	return nil
}
