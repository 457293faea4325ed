package embedding

import (
	"context"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/pkg/utils"
)

// RegionFinder locates the region embedded alongside the full image.
type RegionFinder interface {
	Enabled() bool
	Detect(img image.Image) (image.Rectangle, bool)
	Fallback(img image.Image) image.Rectangle
}

// Extractor produces the fused query/catalog embedding for an image:
// alpha * region + (1 - alpha) * full, renormalized.
type Extractor struct {
	encoder Encoder
	regions RegionFinder
	alpha   float64
	cache   *EmbeddingCache
	logger  *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger for the Extractor.
func WithLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithCache enables an LRU of fused embeddings keyed by file content.
func WithCache(size int) ExtractorOption {
	return func(e *Extractor) {
		if size > 0 {
			e.cache = NewEmbeddingCache(size)
		}
	}
}

// NewExtractor builds an Extractor. regions may be nil to embed full images only.
func NewExtractor(encoder Encoder, regions RegionFinder, cfg *config.ROIConfig, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		encoder: encoder,
		regions: regions,
		alpha:   utils.Clamp(cfg.Alpha(), 0, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Dimensions returns the embedding dimension.
func (e *Extractor) Dimensions() int {
	return e.encoder.Dimensions()
}

// Device returns the encoder's execution target.
func (e *Extractor) Device() Device {
	return e.encoder.Device()
}

// Extract returns the fused unit-norm embedding of img. Only a failure of the
// full-image pass is returned as an error; region problems degrade to the
// heuristic crop or to the full-image embedding.
func (e *Extractor) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	full, err := e.encoder.Encode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("encode full image: %w", err)
	}
	if len(full) != e.encoder.Dimensions() {
		return nil, fmt.Errorf("encoder returned %d dims, want %d", len(full), e.encoder.Dimensions())
	}
	utils.NormalizeL2(full)
	if e.alpha == 0 {
		return full, nil
	}

	region := e.regionEmbedding(ctx, img)
	if region == nil {
		return full, nil
	}
	return Fuse(full, region, e.alpha), nil
}

// ExtractFile decodes and embeds the image at path. With a cache, results are
// keyed by the file's content hash so renamed copies reuse one embedding.
func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]float32, error) {
	var key string
	if e.cache != nil {
		id, err := fileid.FileContentID(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		if v, ok := e.cache.Get(id); ok {
			return v, nil
		}
		key = id
	}
	img, err := imageutil.Open(path)
	if err != nil {
		return nil, err
	}
	vec, err := e.Extract(ctx, img)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, vec)
	}
	return vec, nil
}

// regionEmbedding embeds the detected region, or the heuristic crop when
// detection is off, finds nothing, or its crop fails to encode. Returns nil
// when no region could be embedded.
func (e *Extractor) regionEmbedding(ctx context.Context, img image.Image) (vec []float32) {
	if e.regions == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("region embedding failed", zap.Any("panic", r))
			vec = nil
		}
	}()

	if e.regions.Enabled() {
		if box, ok := e.regions.Detect(img); ok {
			v, err := e.encodeCrop(ctx, img, box)
			if err == nil {
				return v
			}
			e.logger.Warn("encoding detected region failed, using heuristic crop", zap.Error(err))
		}
	}

	v, err := e.encodeCrop(ctx, img, e.regions.Fallback(img))
	if err != nil {
		e.logger.Warn("heuristic crop failed", zap.Error(err))
		return nil
	}
	return v
}

func (e *Extractor) encodeCrop(ctx context.Context, img image.Image, r image.Rectangle) ([]float32, error) {
	if r.Empty() {
		return nil, fmt.Errorf("empty region %v", r)
	}
	v, err := e.encoder.Encode(ctx, imageutil.Crop(img, r))
	if err != nil {
		return nil, err
	}
	if len(v) != e.encoder.Dimensions() {
		return nil, fmt.Errorf("encoder returned %d dims for region", len(v))
	}
	utils.NormalizeL2(v)
	return v, nil
}

// Fuse blends region and full embeddings with weight alpha on the region and
// renormalizes. When the blend cancels out, full is returned.
func Fuse(full, region []float32, alpha float64) []float32 {
	out := make([]float32, len(full))
	var sum float64
	for i := range full {
		v := alpha*float64(region[i]) + (1-alpha)*float64(full[i])
		out[i] = float32(v)
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm < 1e-12 {
		return append([]float32(nil), full...)
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
