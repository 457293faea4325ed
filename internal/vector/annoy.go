package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"
)

// AnnoyIndex is an approximate angular index backed by goannoy. Vectors are
// buffered until the forest is built on first search or save; an index loaded
// from disk is read-only and must be rebuilt to change.
type AnnoyIndex struct {
	mu         sync.RWMutex
	idx        interfaces.AnnoyIndex[float32, uint32]
	dimensions int
	trees      int
	ids        []int64
	pending    [][]float32
	built      bool
	loaded     bool
}

type annoyMapping struct {
	Dimensions int     `json:"dimensions"`
	IDs        []int64 `json:"ids"`
}

// NewAnnoyIndex creates an empty Annoy index building the given number of trees.
func NewAnnoyIndex(dimensions, trees int) (*AnnoyIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if trees <= 0 {
		trees = 16
	}
	return &AnnoyIndex{
		dimensions: dimensions,
		trees:      trees,
		ids:        make([]int64, 0),
	}, nil
}

func newAnnoyForest(dimensions int) interfaces.AnnoyIndex[float32, uint32] {
	return builder.Index[float32, uint32]().
		AngularDistance(dimensions).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()
}

// Type returns the index type identifier.
func (a *AnnoyIndex) Type() string {
	return string(IndexTypeAnnoy)
}

// Dimensions returns the vector dimension.
func (a *AnnoyIndex) Dimensions() int {
	return a.dimensions
}

// Add buffers vectors for the next build.
func (a *AnnoyIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return errors.New("annoy index loaded from disk is read-only; rebuild it instead")
	}
	for i, vec := range vectors {
		if len(vec) != a.dimensions {
			return fmt.Errorf("dimension mismatch: expected %d, got %d", a.dimensions, len(vec))
		}
		a.ids = append(a.ids, ids[i])
		a.pending = append(a.pending, append([]float32(nil), vec...))
	}
	a.built = false
	return nil
}

// build constructs a fresh forest over every buffered vector. Callers hold a.mu.
func (a *AnnoyIndex) build() {
	if a.built || a.loaded || len(a.pending) == 0 {
		return
	}
	idx := newAnnoyForest(a.dimensions)
	for i, vec := range a.pending {
		idx.AddItem(uint32(i), vec)
	}
	idx.Build(a.trees, -1)
	a.idx = idx
	a.built = true
}

// Search returns up to k approximate nearest neighbors scored by cosine similarity.
func (a *AnnoyIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != a.dimensions {
		return nil, fmt.Errorf("dimension mismatch: expected %d, got %d", a.dimensions, len(query))
	}
	a.mu.Lock()
	a.build()
	a.mu.Unlock()

	a.mu.RLock()
	defer a.mu.RUnlock()
	if k <= 0 || len(a.ids) == 0 || a.idx == nil {
		return nil, nil
	}
	if k > len(a.ids) {
		k = len(a.ids)
	}

	searchCtx := a.idx.CreateContext()
	items, distances := a.idx.GetNnsByVector(query, k, -1, searchCtx)
	results := make([]*VectorResult, 0, len(items))
	for i, item := range items {
		if int(item) >= len(a.ids) || i >= len(distances) {
			continue
		}
		results = append(results, &VectorResult{ID: a.ids[item], Score: angularToCosine(distances[i])})
	}
	return results, nil
}

// IDs returns the stored ids in insertion order.
func (a *AnnoyIndex) IDs() []int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]int64(nil), a.ids...)
}

// Save builds the forest if needed, then writes it to path and the id list
// to path+".ids.json".
func (a *AnnoyIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.build()

	if a.idx != nil {
		if err := replaceFile(path, a.idx.Save); err != nil {
			return fmt.Errorf("save annoy index: %w", err)
		}
	}
	mapping := annoyMapping{Dimensions: a.dimensions, IDs: a.ids}
	return writeFileAtomic(path+".ids.json", func(w io.Writer) error {
		return json.NewEncoder(w).Encode(mapping)
	})
}

// Load reads a saved forest and id list. A missing id list leaves the index unchanged.
func (a *AnnoyIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path + ".ids.json")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mapping: %w", err)
	}
	var mapping annoyMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("unmarshal mapping: %w", err)
	}
	if mapping.Dimensions != a.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", mapping.Dimensions, a.dimensions)
	}

	var idx interfaces.AnnoyIndex[float32, uint32]
	if len(mapping.IDs) > 0 {
		idx = newAnnoyForest(a.dimensions)
		if err := idx.Load(path); err != nil {
			return fmt.Errorf("load index: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.idx = idx
	a.ids = mapping.IDs
	a.pending = nil
	a.loaded = true
	a.built = true
	return nil
}

// Size returns the number of vectors.
func (a *AnnoyIndex) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ids)
}

// Close releases the forest.
func (a *AnnoyIndex) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idx = nil
	a.pending = nil
	return nil
}
