// Package vector provides vector index and similarity search.
package vector

import "context"

// VectorIndex stores unit-norm vectors under caller-assigned int64 ids and
// answers inner-product nearest-neighbor queries.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// IDs returns the stored ids in insertion order.
	IDs() []int64
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    int64
	Score float64 // inner product; cosine similarity for unit vectors
}
