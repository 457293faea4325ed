package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/internal/models"
)

// Evaluate queries rotated and scaled variants of every indexed question and
// reports how often the question itself comes back first. Questions whose
// image cannot be opened are skipped.
func (s *Service) Evaluate(ctx context.Context) (*models.EvalReport, error) {
	start := time.Now()
	records := s.Records()
	if len(records) == 0 {
		return nil, ErrIndexEmpty
	}

	report := &models.EvalReport{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imageutil.Open(filepath.Join(s.catalog.ImagesDir, rec.ImageFile))
		if err != nil {
			s.logger.Warn("Skipping question in evaluation", zap.String("filename", rec.Filename), zap.Error(err))
			report.Skipped++
			continue
		}
		report.Questions++
		for _, variant := range imageutil.Augment(img) {
			resp, err := s.FindMatchesImage(ctx, variant, 1)
			if err != nil {
				if errors.Is(err, ErrExtraction) {
					report.Queries++
					continue
				}
				return nil, err
			}
			report.Queries++
			if len(resp.Matches) > 0 && resp.Matches[0].Filename == rec.Filename {
				report.Top1Hits++
			}
		}
	}
	if report.Queries > 0 {
		report.Top1Acc = float64(report.Top1Hits) / float64(report.Queries)
	}
	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}
