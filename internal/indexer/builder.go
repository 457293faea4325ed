// Package indexer rebuilds the question index from a labeled catalog and an
// image directory.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/catalog"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/index"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const progressEvery = 10

// FeatureExtractor embeds an image file into a unit-norm vector.
type FeatureExtractor interface {
	ExtractFile(ctx context.Context, path string) ([]float32, error)
}

// Builder rebuilds an index from scratch.
type Builder struct {
	extractor  FeatureExtractor
	storage    *config.StorageConfig
	newVectors index.VectorFactory
	logger     *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger for progress and per-row warnings.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder writing to the paths in storageCfg.
func NewBuilder(extractor FeatureExtractor, storageCfg *config.StorageConfig, newVectors index.VectorFactory, opts ...BuilderOption) *Builder {
	b := &Builder{
		extractor:  extractor,
		storage:    storageCfg,
		newVectors: newVectors,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = utils.OrNop(b.logger)
	return b
}

// Rebuild embeds every catalog row whose image exists into a fresh index and
// saves it. Only catalog problems, cancellation and save failures are
// returned as errors; missing images and failed extractions are tallied in
// the report. The caller owns the returned index.
func (b *Builder) Rebuild(ctx context.Context, catalogPath, imagesDir string) (*index.Index, *models.RebuildReport, error) {
	start := time.Now()
	report := &models.RebuildReport{ID: uuid.New().String()}
	b.logger.Info("Starting index rebuild",
		zap.String("rebuild_id", report.ID),
		zap.String("catalog", catalogPath),
		zap.String("images_dir", imagesDir))

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	report.TotalCount = len(cat.Rows)
	report.DroppedCount = cat.Dropped
	if !cat.HasAnswer {
		b.logger.Warn("Catalog has no answer column; answers default to empty")
	}

	resolver, err := catalog.NewResolver(imagesDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		b.logger.Warn("Images directory not found", zap.String("images_dir", imagesDir))
	}

	ix, err := index.New(b.storage, b.newVectors, index.WithLogger(b.logger))
	if err != nil {
		return nil, nil, err
	}

	for _, row := range cat.Rows {
		if err := ctx.Err(); err != nil {
			ix.Close()
			return nil, nil, err
		}
		name, ok := "", false
		if resolver != nil {
			name, ok = resolver.Resolve(row.Filename)
		}
		if !ok {
			report.MissingCount++
			b.logger.Warn("Image file not found", zap.String("filename", row.Filename), zap.Int("line", row.Line))
			continue
		}

		vec, err := b.extractor.ExtractFile(ctx, resolver.Path(name))
		if err != nil {
			report.FailedCount++
			b.logger.Warn("Feature extraction failed", zap.String("filename", row.Filename), zap.Error(err))
			continue
		}
		if _, err := ix.Add(ctx, row.Filename, row.Answer, name, vec); err != nil {
			report.FailedCount++
			b.logger.Warn("Adding vector failed", zap.String("filename", row.Filename), zap.Error(err))
			continue
		}
		report.SuccessCount++
		if report.SuccessCount%progressEvery == 0 {
			b.logger.Info(fmt.Sprintf("Processed %d/%d images", report.SuccessCount, report.TotalCount))
		}
	}

	if err := ix.Save(ctx); err != nil {
		ix.Close()
		return nil, nil, fmt.Errorf("save index: %w", err)
	}
	report.DurationMs = time.Since(start).Milliseconds()
	b.logger.Info("Index rebuild completed",
		zap.String("rebuild_id", report.ID),
		zap.Int("success", report.SuccessCount),
		zap.Int("total", report.TotalCount),
		zap.Int("missing", report.MissingCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("dropped", report.DroppedCount),
		zap.Int64("duration_ms", report.DurationMs))
	return ix, report, nil
}
