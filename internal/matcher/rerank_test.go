package matcher

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/index"
	"github.com/hyperjump/kotae/internal/orb"
	"github.com/hyperjump/kotae/internal/vector"
)

// fixedExtractor embeds every query to the same vector.
type fixedExtractor struct {
	vec []float32
}

func (f fixedExtractor) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	return f.vec, nil
}

// fixedScorer returns a preset ORB similarity per image basename.
type fixedScorer struct {
	scores   map[string]float64
	extracts int
	compared []string
}

func (f *fixedScorer) Extract(img image.Image) *orb.Features {
	f.extracts++
	return &orb.Features{}
}

func (f *fixedScorer) CompareFile(ctx context.Context, query *orb.Features, path string) float64 {
	name := filepath.Base(path)
	f.compared = append(f.compared, name)
	return f.scores[name]
}

// newBlendService indexes a.png, b.png and c.png with similarities 1.0, 0.8
// and 0.6 to the fixed query vector.
func newBlendService(t *testing.T, scorer LocalScorer, weight float64) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Catalog.ImagesDir = filepath.Join(dir, "images")
	cfg.Storage.IndexPath = filepath.Join(dir, "index.bin")
	cfg.Storage.MetadataPath = filepath.Join(dir, "metadata.db")
	cfg.Search.MinSimilarity = 0
	cfg.Rerank.Weight = &weight
	cfg.Rerank.Shortlist = 0

	ix, err := index.New(&cfg.Storage, func() (vector.VectorIndex, error) { return vector.NewMemoryIndex(3) })
	require.NoError(t, err)
	ctx := context.Background()
	for _, r := range []struct {
		name string
		vec  []float32
	}{
		{"a.png", []float32{1, 0, 0}},
		{"b.png", []float32{0.8, 0.6, 0}},
		{"c.png", []float32{0.6, 0.8, 0}},
	} {
		_, err := ix.Add(ctx, r.name, "answer-"+r.name, r.name, r.vec)
		require.NoError(t, err)
	}

	svc := NewService(ix, fixedExtractor{vec: []float32{1, 0, 0}}, scorer, nil, cfg)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRerank_BlendsScores(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		order  []string
		scores []float64
	}{
		{
			name:   "default weight",
			weight: 0.4,
			// b: 0.4*1.0 + 0.6*0.8, a: 0.4*0 + 0.6*1.0, c: 0.4*0.5 + 0.6*0.6
			order:  []string{"b.png", "a.png", "c.png"},
			scores: []float64{0.88, 0.6, 0.56},
		},
		{
			name:   "orb only",
			weight: 1,
			order:  []string{"b.png", "c.png", "a.png"},
			scores: []float64{1.0, 0.5, 0},
		},
		{
			name:   "embedding only",
			weight: 0,
			order:  []string{"a.png", "b.png", "c.png"},
			scores: []float64{1.0, 0.8, 0.6},
		},
	}
	orbScores := map[string]float64{"a.png": 0, "b.png": 1, "c.png": 0.5}
	sims := map[string]float64{"a.png": 1, "b.png": 0.8, "c.png": 0.6}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fixedScorer{scores: orbScores}
			svc := newBlendService(t, scorer, tt.weight)

			resp, err := svc.FindMatchesImage(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 3)
			require.NoError(t, err)
			assert.True(t, resp.Reranked)
			assert.Equal(t, 1, scorer.extracts)
			assert.ElementsMatch(t, []string{"a.png", "b.png", "c.png"}, scorer.compared)

			require.Len(t, resp.Matches, 3)
			for i, m := range resp.Matches {
				assert.Equal(t, tt.order[i], m.Filename)
				assert.Equal(t, i+1, m.Rank)
				assert.InDelta(t, tt.scores[i], m.Score, 1e-6)
				assert.InDelta(t, sims[m.Filename], m.Similarity, 1e-6)
				require.NotNil(t, m.LocalScore)
				assert.Equal(t, orbScores[m.Filename], *m.LocalScore)
				assert.InDelta(t, tt.weight*orbScores[m.Filename]+(1-tt.weight)*m.Similarity, m.Score, 1e-12)
			}
		})
	}
}

func TestRerank_TruncatesAfterReorder(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"a.png": 0, "b.png": 1, "c.png": 0.5}}
	svc := newBlendService(t, scorer, 0.4)
	svc.shortlist = 3

	resp, err := svc.FindMatchesImage(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)), 1)
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	// a.png leads on embedding similarity but b.png wins the blend.
	assert.Equal(t, "b.png", resp.Matches[0].Filename)
	assert.Equal(t, 1, resp.Matches[0].Rank)
	assert.InDelta(t, 0.88, resp.Matches[0].Score, 1e-6)
	assert.InDelta(t, 1.0, resp.Matches[0].Confidence, 1e-12)
}

func BenchmarkFindMatchesImage(b *testing.B) {
	rows := make(map[string]int64, 20)
	for i := int64(1); i <= 20; i++ {
		rows[string(rune('a'+i-1))+".png"] = i
	}
	h := newHarness(b, rows, nil)
	ctx := context.Background()
	if _, _, err := h.service.Rebuild(ctx); err != nil {
		b.Fatal(err)
	}
	query := texturedImage(7)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.service.FindMatchesImage(ctx, query, 5); err != nil {
			b.Fatal(err)
		}
	}
}
