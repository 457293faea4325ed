package orb

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Features are the keypoints and descriptors of one image's region of interest.
type Features struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// RegionFinder picks the region of an image that local matching runs on.
type RegionFinder interface {
	DetectAlways(img image.Image) image.Rectangle
}

// Scorer computes ORB similarity between question images restricted to their
// regions of interest. Failures score 0.
type Scorer struct {
	regions   RegionFinder
	nfeatures int
	ratio     float64
	logger    *zap.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger sets the logger for the Scorer.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger
	}
}

// NewScorer builds a Scorer from cfg. regions may be nil to match whole images.
func NewScorer(cfg *config.RerankConfig, regions RegionFinder, opts ...Option) *Scorer {
	s := &Scorer{
		regions:   regions,
		nfeatures: max(cfg.ORBFeatures, 1),
		ratio:     cfg.ORBRatio,
		logger:    zap.NewNop(),
	}
	if s.ratio <= 0 || s.ratio > 1 {
		s.ratio = 0.75
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// Extract computes the ORB features of img's region of interest.
func (s *Scorer) Extract(img image.Image) (f *Features) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("orb extraction failed", zap.Any("panic", r))
			f = &Features{}
		}
	}()
	if img == nil {
		return &Features{}
	}
	region := img.Bounds()
	if s.regions != nil {
		region = s.regions.DetectAlways(img)
	}
	gray := imageutil.ToGray(imageutil.Crop(img, region))
	kps, descs := DetectAndCompute(gray, s.nfeatures)
	return &Features{Keypoints: kps, Descriptors: descs}
}

// Similarity returns the ORB similarity of two images in [0, 1].
func (s *Scorer) Similarity(query, candidate image.Image) float64 {
	return s.Compare(s.Extract(query), s.Extract(candidate))
}

// Compare scores precomputed features.
func (s *Scorer) Compare(query, candidate *Features) float64 {
	return Score(query, candidate, s.ratio)
}

// CompareFile scores query features against the image stored at path.
// Unreadable images score 0.
func (s *Scorer) CompareFile(ctx context.Context, query *Features, path string) float64 {
	if ctx.Err() != nil {
		return 0
	}
	img, err := imageutil.Open(path)
	if err != nil {
		s.logger.Debug("orb candidate unreadable", zap.String("path", path), zap.Error(err))
		return 0
	}
	return s.Compare(query, s.Extract(img))
}
