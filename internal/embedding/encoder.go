// Package embedding turns question images into unit-norm vectors with a CLIP
// vision encoder and fuses full-image and region embeddings.
package embedding

import (
	"context"
	"image"
)

// Encoder produces an embedding for a single image.
type Encoder interface {
	Encode(ctx context.Context, img image.Image) ([]float32, error)
	Dimensions() int
	Device() Device
	Close() error
}
