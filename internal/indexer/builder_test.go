package indexer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/catalog"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/index"
	"github.com/hyperjump/kotae/internal/roi"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 64

func writeJPEG(t *testing.T, path string, symbol image.Rectangle) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	draw.Draw(img, img.Rect, image.White, image.Point{}, draw.Src)
	draw.Draw(img, symbol, &image.Uniform{C: color.Gray{Y: 20}}, image.Point{}, draw.Src)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
}

type fixture struct {
	catalog string
	images  string
	storage *config.StorageConfig
}

func newFixture(t *testing.T, csv string) fixture {
	t.Helper()
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(images, 0755))
	cat := filepath.Join(dir, "questions.csv")
	require.NoError(t, os.WriteFile(cat, []byte(csv), 0644))
	return fixture{
		catalog: cat,
		images:  images,
		storage: &config.StorageConfig{
			IndexPath:    filepath.Join(dir, "data", "index.bin"),
			MetadataPath: filepath.Join(dir, "data", "metadata.db"),
		},
	}
}

func newTestBuilder(f fixture) (*Builder, *embedding.Extractor) {
	roiCfg := config.Default().ROI
	extractor := embedding.NewExtractor(embedding.NewThumbnailEncoder(testDims), roi.NewDetector(&roiCfg), &roiCfg)
	factory := func() (vector.VectorIndex, error) { return vector.NewMemoryIndex(testDims) }
	return NewBuilder(extractor, f.storage, factory), extractor
}

func TestRebuild_SingleRowSelfMatch(t *testing.T) {
	f := newFixture(t, "filename,answer\nq1.jpg,42\n")
	writeJPEG(t, filepath.Join(f.images, "q1.jpg"), image.Rect(10, 10, 40, 35))
	b, extractor := newTestBuilder(f)
	ctx := context.Background()

	ix, report, err := b.Rebuild(ctx, f.catalog, f.images)
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, report.TotalCount)
	assert.NotEmpty(t, report.ID)

	q, err := extractor.ExtractFile(ctx, filepath.Join(f.images, "q1.jpg"))
	require.NoError(t, err)
	results, err := ix.Search(ctx, q, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "q1.jpg", results[0].Filename)
	assert.Equal(t, "42", results[0].Answer)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
}

func TestRebuild_TalliesRows(t *testing.T) {
	f := newFixture(t, "filename,answer\nq1.jpg,A\nq2.JPG,B\n\"   ,\",C\nmissing.jpg,D\nbroken.jpg,E\n")
	writeJPEG(t, filepath.Join(f.images, "q1.jpg"), image.Rect(10, 10, 40, 35))
	writeJPEG(t, filepath.Join(f.images, "q2.jpg"), image.Rect(5, 20, 30, 60))
	require.NoError(t, os.WriteFile(filepath.Join(f.images, "broken.jpg"), []byte("not an image"), 0644))
	b, _ := newTestBuilder(f)

	ix, report, err := b.Rebuild(context.Background(), f.catalog, f.images)
	require.NoError(t, err)
	defer ix.Close()

	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 4, report.TotalCount)
	assert.Equal(t, 1, report.MissingCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 1, report.DroppedCount)

	records := ix.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "q2.JPG", records[1].Filename)
	assert.Equal(t, "q2.jpg", records[1].ImageFile)
}

func TestRebuild_Idempotent(t *testing.T) {
	f := newFixture(t, "filename,answer\nq1.jpg,A\nq2.jpg,B\nq3.jpg,C\n")
	writeJPEG(t, filepath.Join(f.images, "q1.jpg"), image.Rect(10, 10, 40, 35))
	writeJPEG(t, filepath.Join(f.images, "q2.jpg"), image.Rect(5, 20, 30, 60))
	b, _ := newTestBuilder(f)
	ctx := context.Background()

	names := func(ix *index.Index) []string {
		var out []string
		for _, r := range ix.Records() {
			out = append(out, r.Filename)
		}
		sort.Strings(out)
		return out
	}

	first, r1, err := b.Rebuild(ctx, f.catalog, f.images)
	require.NoError(t, err)
	defer first.Close()
	second, r2, err := b.Rebuild(ctx, f.catalog, f.images)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, r1.SuccessCount, r2.SuccessCount)
	assert.Equal(t, r1.TotalCount, r2.TotalCount)
	assert.Equal(t, names(first), names(second))

	loaded, err := index.New(f.storage, func() (vector.VectorIndex, error) { return vector.NewMemoryIndex(testDims) })
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(ctx))
	assert.Equal(t, names(second), names(loaded))
}

func TestRebuild_MissingImagesDir(t *testing.T) {
	f := newFixture(t, "filename,answer\nq1.jpg,A\n")
	b, _ := newTestBuilder(f)
	ix, report, err := b.Rebuild(context.Background(), f.catalog, filepath.Join(f.images, "nope"))
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 1, report.MissingCount)
}

func TestRebuild_CatalogErrors(t *testing.T) {
	f := newFixture(t, "name,answer\nq1.jpg,A\n")
	b, _ := newTestBuilder(f)

	_, _, err := b.Rebuild(context.Background(), f.catalog, f.images)
	assert.True(t, errors.Is(err, catalog.ErrNoFilenameColumn))

	_, _, err = b.Rebuild(context.Background(), filepath.Join(f.images, "none.csv"), f.images)
	assert.True(t, errors.Is(err, catalog.ErrCatalogNotFound))
}

func TestRebuild_Cancelled(t *testing.T) {
	f := newFixture(t, "filename,answer\nq1.jpg,A\n")
	writeJPEG(t, filepath.Join(f.images, "q1.jpg"), image.Rect(10, 10, 40, 35))
	b, _ := newTestBuilder(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := b.Rebuild(ctx, f.catalog, f.images)
	assert.ErrorIs(t, err, context.Canceled)
}
