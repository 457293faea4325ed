package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/roi"
	"github.com/hyperjump/kotae/pkg/utils"
)

// questionImage draws a dark symbol in the top-left and a bar lower down.
func questionImage(symbol image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 160, 120))
	draw.Draw(img, img.Rect, image.White, image.Point{}, draw.Src)
	draw.Draw(img, symbol, image.Black, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(20, 95, 140, 100), &image.Uniform{C: color.Gray{Y: 90}}, image.Point{}, draw.Src)
	return img
}

// countingEncoder wraps an encoder, counting calls and failing on demand.
type countingEncoder struct {
	Encoder
	calls       int
	failAll     bool
	failSmaller int
}

func (c *countingEncoder) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	c.calls++
	if c.failAll {
		return nil, errors.New("model failure")
	}
	if c.failSmaller > 0 && img.Bounds().Dx() < c.failSmaller {
		return nil, errors.New("region too small")
	}
	return c.Encoder.Encode(ctx, img)
}

func newExtractor(t *testing.T, enc Encoder, mutate func(*config.ROIConfig), opts ...ExtractorOption) *Extractor {
	t.Helper()
	cfg := config.Default().ROI
	if mutate != nil {
		mutate(&cfg)
	}
	return NewExtractor(enc, roi.NewDetector(&cfg), &cfg, opts...)
}

func TestThumbnailEncoder(t *testing.T) {
	enc := NewThumbnailEncoder(512)
	ctx := context.Background()

	a, err := enc.Encode(ctx, questionImage(image.Rect(10, 10, 40, 40)))
	require.NoError(t, err)
	require.Len(t, a, 512)
	assert.InDelta(t, 1.0, utils.L2Norm(a), 1e-5)

	again, _ := enc.Encode(ctx, questionImage(image.Rect(10, 10, 40, 40)))
	assert.Equal(t, a, again)

	uniform := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	u, err := enc.Encode(ctx, uniform)
	require.NoError(t, err)
	assert.Equal(t, float32(1), u[0])
	assert.Equal(t, DeviceCPU, enc.Device())
}

func TestFuse(t *testing.T) {
	full := []float32{1, 0}
	region := []float32{0, 1}

	assert.Equal(t, full, Fuse(full, region, 0))
	assert.Equal(t, region, Fuse(full, region, 1))

	mid := Fuse(full, region, 0.5)
	assert.InDelta(t, math.Sqrt(0.5), float64(mid[0]), 1e-6)
	assert.InDelta(t, math.Sqrt(0.5), float64(mid[1]), 1e-6)

	cancelled := Fuse([]float32{1, 0}, []float32{-1, 0}, 0.5)
	assert.Equal(t, []float32{1, 0}, cancelled)
}

func TestExtract_unitNorm(t *testing.T) {
	e := newExtractor(t, NewThumbnailEncoder(512), nil)
	vec, err := e.Extract(context.Background(), questionImage(image.Rect(10, 10, 40, 40)))
	require.NoError(t, err)
	require.Len(t, vec, 512)
	assert.InDelta(t, 1.0, utils.L2Norm(vec), 1e-5)
}

func TestExtract_regionChangesEmbedding(t *testing.T) {
	ctx := context.Background()
	fused := newExtractor(t, NewThumbnailEncoder(512), nil)
	fullOnly := newExtractor(t, NewThumbnailEncoder(512), func(c *config.ROIConfig) {
		w := 0.0
		c.RegionWeight = &w
	})
	img := questionImage(image.Rect(10, 10, 40, 40))

	a, err := fused.Extract(ctx, img)
	require.NoError(t, err)
	b, err := fullOnly.Extract(ctx, img)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	full, _ := NewThumbnailEncoder(512).Encode(ctx, img)
	assert.InDeltaSlice(t, full, b, 1e-6, "alpha 0 keeps the full-image embedding")
}

func TestExtract_fullImageFailureIsFatal(t *testing.T) {
	enc := &countingEncoder{Encoder: NewThumbnailEncoder(64), failAll: true}
	e := newExtractor(t, enc, nil)
	_, err := e.Extract(context.Background(), questionImage(image.Rect(10, 10, 40, 40)))
	assert.Error(t, err)
}

func TestExtract_regionFailureFallsBackToFull(t *testing.T) {
	ctx := context.Background()
	enc := &countingEncoder{Encoder: NewThumbnailEncoder(64), failSmaller: 150}
	e := newExtractor(t, enc, nil)
	img := questionImage(image.Rect(10, 10, 40, 40))

	vec, err := e.Extract(ctx, img)
	require.NoError(t, err)
	full, _ := NewThumbnailEncoder(64).Encode(ctx, img)
	assert.InDeltaSlice(t, full, vec, 1e-6)
	// full pass, detected region, heuristic crop
	assert.Equal(t, 3, enc.calls)
}

func TestExtractFile_cachesByContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q1.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, questionImage(image.Rect(10, 10, 40, 40))))
	require.NoError(t, f.Close())

	enc := &countingEncoder{Encoder: NewThumbnailEncoder(64)}
	e := newExtractor(t, enc, nil, WithCache(8))
	ctx := context.Background()

	first, err := e.ExtractFile(ctx, path)
	require.NoError(t, err)
	calls := enc.calls
	second, err := e.ExtractFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, enc.calls, "second extraction should hit the cache")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copyPath := filepath.Join(dir, "renamed.png")
	require.NoError(t, os.WriteFile(copyPath, data, 0600))
	third, err := e.ExtractFile(ctx, copyPath)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, calls, enc.calls, "identical bytes under another name share the entry")

	_, err = e.ExtractFile(ctx, filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestExtractFile_undecodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("definitely not jpeg"), 0600))
	e := newExtractor(t, NewThumbnailEncoder(64), nil)
	_, err := e.ExtractFile(context.Background(), path)
	assert.Error(t, err)

	_, err = e.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestPreprocess(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	draw.Draw(img, img.Rect, image.White, image.Point{}, draw.Src)
	px := Preprocess(img, 224)
	require.Len(t, px, 3*224*224)
	for c := 0; c < 3; c++ {
		want := (1 - clipMean[c]) / clipStd[c]
		assert.InDelta(t, want, px[c*224*224+100], 0.02)
	}
}

func TestResolveDevice(t *testing.T) {
	assert.Equal(t, DeviceCPU, ResolveDevice("cpu"))
	assert.Equal(t, DeviceCUDA, ResolveDevice("CUDA"))
	assert.Equal(t, DeviceCoreML, ResolveDevice("mps"))
	assert.False(t, DeviceCPU.Accelerated())
	assert.True(t, DeviceCUDA.Accelerated())
}
