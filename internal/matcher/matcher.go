// Package matcher runs two-stage question retrieval: embedding recall over
// the index, then optional ORB re-ranking of the shortlist.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/catalog"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/internal/index"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/orb"
	"github.com/hyperjump/kotae/pkg/utils"
)

var (
	// ErrIndexEmpty means there is nothing to match against; build the index first.
	ErrIndexEmpty = errors.New("index is empty")
	// ErrExtraction means the query image could not be decoded or embedded.
	ErrExtraction = errors.New("feature extraction failed")
)

// Matcher is what the HTTP layer and CLI depend on.
type Matcher interface {
	FindMatches(ctx context.Context, imagePath string, topK int) (*models.MatchResponse, error)
	Rebuild(ctx context.Context) (*models.RebuildReport, *models.IndexStats, error)
	Remove(ctx context.Context, filename string) (int, error)
	Stats() *models.IndexStats
}

// QueryExtractor embeds a decoded query image.
type QueryExtractor interface {
	Extract(ctx context.Context, img image.Image) ([]float32, error)
}

// LocalScorer computes local-descriptor similarity for re-ranking.
type LocalScorer interface {
	Extract(img image.Image) *orb.Features
	CompareFile(ctx context.Context, query *orb.Features, path string) float64
}

// Rebuilder builds a fresh index from the catalog.
type Rebuilder interface {
	Rebuild(ctx context.Context, catalogPath, imagesDir string) (*index.Index, *models.RebuildReport, error)
}

var _ Matcher = (*Service)(nil)

// Service owns the live index. Searches share it under a read lock; Rebuild
// builds a replacement and swaps it in under the write lock.
type Service struct {
	extractor QueryExtractor
	scorer    LocalScorer
	builder   Rebuilder
	catalog   config.CatalogConfig
	search    config.SearchConfig
	rerank    bool
	weight    float64
	shortlist int
	logger    *zap.Logger

	mu        sync.RWMutex
	ix        *index.Index
	rebuildMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the Service.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service around a loaded index. scorer may be nil to
// disable re-ranking; builder may be nil when Rebuild is never called.
func NewService(ix *index.Index, extractor QueryExtractor, scorer LocalScorer, builder Rebuilder, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		ix:        ix,
		extractor: extractor,
		scorer:    scorer,
		builder:   builder,
		catalog:   cfg.Catalog,
		search:    cfg.Search,
		rerank:    scorer != nil && cfg.Rerank.EnabledOrDefault(),
		weight:    utils.Clamp(cfg.Rerank.WeightOrDefault(), 0, 1),
		shortlist: cfg.Rerank.Shortlist,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// FindMatches decodes the image at imagePath and returns its ranked matches.
func (s *Service) FindMatches(ctx context.Context, imagePath string, topK int) (*models.MatchResponse, error) {
	if s.empty() {
		return nil, ErrIndexEmpty
	}
	img, err := imageutil.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return s.FindMatchesImage(ctx, img, topK)
}

// FindMatchesImage returns ranked matches for a decoded image. topK <= 0
// uses the configured default; it is capped at the configured maximum.
func (s *Service) FindMatchesImage(ctx context.Context, img image.Image, topK int) (*models.MatchResponse, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ix == nil || s.ix.Len() == 0 {
		return nil, ErrIndexEmpty
	}
	topK = s.clampTopK(topK)

	query, err := s.extractor.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	k := topK
	if s.rerank && s.shortlist > k {
		k = s.shortlist
	}
	matches, err := s.ix.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	resp := &models.MatchResponse{}
	if s.rerank && len(matches) > 0 {
		if err := s.rerankMatches(ctx, img, matches); err != nil {
			return nil, err
		}
		resp.Reranked = true
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	if s.search.MinSimilarity > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Similarity >= s.search.MinSimilarity {
				kept = append(kept, m)
			}
		}
		matches = kept
	}

	sims := make([]float64, len(matches))
	for i, m := range matches {
		m.Rank = i + 1
		sims[i] = m.Similarity
	}
	for i, c := range Calibrate(sims, s.search.ScoreTemperature) {
		matches[i].Confidence = c
	}
	resp.Matches = matches
	resp.Margin = Margin(matches)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// rerankMatches blends ORB similarity into each match's score and re-sorts
// by the blend. Equal scores keep embedding order.
func (s *Service) rerankMatches(ctx context.Context, img image.Image, matches []*models.MatchResult) error {
	query := s.scorer.Extract(img)
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := s.ix.Record(m.ID)
		if !ok {
			continue
		}
		local := s.scorer.CompareFile(ctx, query, filepath.Join(s.catalog.ImagesDir, rec.ImageFile))
		m.LocalScore = &local
		m.Score = s.weight*local + (1-s.weight)*m.Similarity
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return nil
}

func (s *Service) clampTopK(topK int) int {
	if topK <= 0 {
		topK = s.search.TopK
	}
	if topK <= 0 {
		topK = 5
	}
	if s.search.MaxTopK > 0 && topK > s.search.MaxTopK {
		topK = s.search.MaxTopK
	}
	return topK
}

// Rebuild rebuilds the index from the configured catalog and swaps it in.
// Concurrent rebuilds run one at a time; searches keep using the previous
// index until the swap.
func (s *Service) Rebuild(ctx context.Context) (*models.RebuildReport, *models.IndexStats, error) {
	if s.builder == nil {
		return nil, nil, errors.New("rebuild not configured")
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	fresh, report, err := s.builder.Rebuild(ctx, s.catalog.Path, s.catalog.ImagesDir)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	old := s.ix
	s.ix = fresh
	s.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("Closing previous index failed", zap.Error(err))
		}
	}
	return report, fresh.Stats(), nil
}

// Remove drops every question named filename from the live index and its
// metadata store. The vectors stay until the next Rebuild.
func (s *Service) Remove(ctx context.Context, filename string) (int, error) {
	name := catalog.NormalizeFilename(filename)
	if name == "" {
		return 0, fmt.Errorf("invalid filename %q", filename)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ix == nil {
		return 0, nil
	}
	n, err := s.ix.Remove(ctx, name)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Removed questions", zap.String("filename", name), zap.Int("count", n))
	return n, nil
}

func (s *Service) empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix == nil || s.ix.Len() == 0
}

// Stats returns statistics of the live index.
func (s *Service) Stats() *models.IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ix == nil {
		return &models.IndexStats{}
	}
	return s.ix.Stats()
}

// Records lists the live index records.
func (s *Service) Records() []*models.QuestionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ix == nil {
		return nil
	}
	return s.ix.Records()
}

// Close closes the live index.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ix == nil {
		return nil
	}
	err := s.ix.Close()
	s.ix = nil
	return err
}
