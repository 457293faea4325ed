// Package storage defines the persistence interface for question metadata.
package storage

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// Storage persists question records keyed by the id shared with the vector index.
type Storage interface {
	// Record operations
	ListRecords(ctx context.Context) ([]*models.QuestionRecord, error)
	DeleteByFilename(ctx context.Context, filename string) (int64, error)

	// ReplaceAll swaps in records and tags them with generation. The
	// generation pairs the metadata with the vector files of the same save.
	ReplaceAll(ctx context.Context, generation string, records []*models.QuestionRecord) error
	// Generation returns the tag of the last ReplaceAll, or "" when none ran.
	Generation(ctx context.Context) (string, error)

	Close() error
}
