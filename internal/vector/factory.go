package vector

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Exact; the default.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses a FAISS flat inner-product index.
	// Requires FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
	// IndexTypeAnnoy uses an approximate angular Annoy forest.
	IndexTypeAnnoy IndexType = "annoy"
	// IndexTypePGVector stores vectors in PostgreSQL with the pgvector extension.
	IndexTypePGVector IndexType = "pgvector"
)

// NewVectorIndex creates a vector index of the configured type.
// Supported types: "memory" (default), "faiss", "annoy", "pgvector".
func NewVectorIndex(cfg *config.VectorConfig, dimensions int) (VectorIndex, error) {
	if cfg == nil {
		cfg = &config.VectorConfig{}
	}
	switch IndexType(cfg.IndexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	case IndexTypeAnnoy:
		return NewAnnoyIndex(dimensions, cfg.AnnoyTrees)
	case IndexTypePGVector:
		return NewPGVectorIndex(cfg.PostgresDSN, cfg.PostgresTable, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss, annoy, pgvector)", cfg.IndexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
