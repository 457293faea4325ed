// Package index joins the vector index and the question metadata store under
// one explicit int64 id per record.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrGenerationMismatch means the vector files and the metadata store were
// written by different saves.
var ErrGenerationMismatch = errors.New("index generation mismatch")

// VectorFactory creates an empty vector index of the configured type and dimension.
type VectorFactory func() (vector.VectorIndex, error)

// Index owns the question vectors and their metadata.
//
// Every Save mints a generation id that is written next to the vector files
// and into the metadata store. Load refuses state whose two halves disagree.
//
// Remove drops metadata only; the vector stays until the next rebuild and is
// skipped at search time.
type Index struct {
	newVectors   VectorFactory
	indexPath    string
	metadataPath string
	logger       *zap.Logger

	mu      sync.RWMutex
	vectors vector.VectorIndex
	store   storage.Storage
	records map[int64]*models.QuestionRecord
	order   []int64
	nextID  int64
	gen     string
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger for the Index.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithStorage sets the metadata store instead of opening SQLite at the metadata path.
func WithStorage(store storage.Storage) Option {
	return func(ix *Index) {
		ix.store = store
	}
}

// New creates an empty Index backed by the paths in cfg. Call Load to read
// persisted state.
func New(cfg *config.StorageConfig, newVectors VectorFactory, opts ...Option) (*Index, error) {
	vectors, err := newVectors()
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	ix := &Index{
		newVectors:   newVectors,
		indexPath:    cfg.IndexPath,
		metadataPath: cfg.MetadataPath,
		vectors:      vectors,
		records:      make(map[int64]*models.QuestionRecord),
		nextID:       1,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = utils.OrNop(ix.logger)
	return ix, nil
}

// openStore opens the SQLite store on first use. Callers hold ix.mu.
func (ix *Index) openStore() (storage.Storage, error) {
	if ix.store != nil {
		return ix.store, nil
	}
	store, err := storage.NewSQLiteStorage(ix.metadataPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	ix.store = store
	return store, nil
}

// Load reads the persisted vectors and metadata. Missing files leave the index
// empty; unreadable or inconsistent state is logged and also leaves it empty.
func (ix *Index) Load(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.load(ctx); err != nil {
		ix.logger.Warn("Index state unusable, starting empty", zap.Error(err))
		return ix.reset()
	}
	return nil
}

func (ix *Index) load(ctx context.Context) error {
	if ix.store == nil && !fileExists(ix.metadataPath) {
		return nil
	}
	store, err := ix.openStore()
	if err != nil {
		return err
	}
	gen, err := ix.checkGeneration(ctx, store)
	if err != nil {
		return err
	}
	records, err := store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if err := ix.vectors.Load(ix.indexPath); err != nil {
		return fmt.Errorf("read vectors: %w", err)
	}

	ids := ix.vectors.IDs()
	present := make(map[int64]bool, len(ids))
	var nextID int64 = 1
	for _, id := range ids {
		present[id] = true
		if id >= nextID {
			nextID = id + 1
		}
	}
	byID := make(map[int64]*models.QuestionRecord, len(records))
	for _, rec := range records {
		if !present[rec.ID] {
			return fmt.Errorf("record %d (%s) has no vector", rec.ID, rec.Filename)
		}
		byID[rec.ID] = rec
	}
	if orphans := len(ids) - len(byID); orphans > 0 {
		ix.logger.Debug("Vectors without metadata until next rebuild", zap.Int("count", orphans))
	}

	order := make([]int64, 0, len(byID))
	for _, id := range ids {
		if _, ok := byID[id]; ok {
			order = append(order, id)
		}
	}
	ix.records = byID
	ix.order = order
	ix.nextID = nextID
	ix.gen = gen
	ix.logger.Debug("Index loaded", zap.String("generation", gen), zap.Int("records", len(byID)))
	return nil
}

// checkGeneration compares the generation stored with the metadata against
// the one written beside the vectors. Without an index path there are no
// vector files to disagree with.
func (ix *Index) checkGeneration(ctx context.Context, store storage.Storage) (string, error) {
	stored, err := store.Generation(ctx)
	if err != nil {
		return "", fmt.Errorf("read metadata generation: %w", err)
	}
	if ix.indexPath == "" {
		return stored, nil
	}
	onDisk, err := readGeneration(ix.generationPath())
	if err != nil {
		return "", err
	}
	if stored != onDisk {
		return "", fmt.Errorf("%w: metadata %q, vectors %q", ErrGenerationMismatch, stored, onDisk)
	}
	return stored, nil
}

func (ix *Index) generationPath() string {
	return ix.indexPath + ".gen"
}

// reset replaces the vectors with a fresh empty index. Callers hold ix.mu.
func (ix *Index) reset() error {
	fresh, err := ix.newVectors()
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	_ = ix.vectors.Close()
	ix.vectors = fresh
	ix.records = make(map[int64]*models.QuestionRecord)
	ix.order = nil
	ix.nextID = 1
	ix.gen = ""
	return nil
}

// Add stores vec with its record and returns the assigned id.
func (ix *Index) Add(ctx context.Context, filename, answer, imageFile string, vec []float32) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := ix.nextID
	if err := ix.vectors.Add(ctx, []int64{id}, [][]float32{vec}); err != nil {
		return 0, fmt.Errorf("add vector for %s: %w", filename, err)
	}
	ix.nextID++
	ix.records[id] = &models.QuestionRecord{
		ID:        id,
		Filename:  filename,
		Answer:    answer,
		ImageFile: imageFile,
	}
	ix.order = append(ix.order, id)
	return id, nil
}

// Save persists vectors and metadata under a new generation. The generation
// file goes first and the metadata commit last, so a save that stops part
// way leaves the two halves disagreeing and the next Load starts empty.
func (ix *Index) Save(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	gen := uuid.NewString()
	if ix.indexPath != "" {
		if err := writeGeneration(ix.generationPath(), gen); err != nil {
			return fmt.Errorf("save generation: %w", err)
		}
	}
	if err := ix.vectors.Save(ix.indexPath); err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}
	store, err := ix.openStore()
	if err != nil {
		return err
	}
	if err := store.ReplaceAll(ctx, gen, ix.recordsLocked()); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	ix.gen = gen
	ix.logger.Debug("Index saved", zap.String("generation", gen), zap.Int("records", len(ix.records)))
	return nil
}

// Generation returns the id of the last successful Save or Load, or "" for an
// index that was never persisted.
func (ix *Index) Generation() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// Search returns up to topK records ranked by inner product with query.
// Equal similarities keep index order; ranks are 1-based.
func (ix *Index) Search(ctx context.Context, query []float32, topK int) ([]*models.MatchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if topK <= 0 || len(ix.records) == 0 {
		return nil, nil
	}
	// Ask for enough hits to cover vectors whose metadata was removed.
	k := topK + max(ix.vectors.Size()-len(ix.records), 0)
	hits, err := ix.vectors.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	results := make([]*models.MatchResult, 0, min(topK, len(hits)))
	for _, hit := range hits {
		rec, ok := ix.records[hit.ID]
		if !ok {
			continue
		}
		results = append(results, &models.MatchResult{
			ID:         rec.ID,
			Filename:   rec.Filename,
			Answer:     rec.Answer,
			Similarity: hit.Score,
			Score:      hit.Score,
			Rank:       len(results) + 1,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Remove drops the metadata of every record named filename and returns how
// many were dropped. An open metadata store drops them too, so the removal
// survives a reload. Their vectors remain until the index is rebuilt.
func (ix *Index) Remove(ctx context.Context, filename string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.store != nil {
		if _, err := ix.store.DeleteByFilename(ctx, filename); err != nil {
			return 0, fmt.Errorf("delete %s from metadata: %w", filename, err)
		}
	}

	removed := 0
	kept := ix.order[:0]
	for _, id := range ix.order {
		if ix.records[id].Filename == filename {
			delete(ix.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	ix.order = kept
	return removed, nil
}

// Record returns the record with the given id.
func (ix *Index) Record(id int64) (*models.QuestionRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[id]
	return rec, ok
}

// Records returns all records in insertion order.
func (ix *Index) Records() []*models.QuestionRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.recordsLocked()
}

func (ix *Index) recordsLocked() []*models.QuestionRecord {
	out := make([]*models.QuestionRecord, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.records[id])
	}
	return out
}

// Len returns the number of records with metadata.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Stats describes the index and its backing files.
func (ix *Index) Stats() *models.IndexStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	usage, err := storage.DiskUsageBytes(
		ix.indexPath,
		ix.indexPath+".ids",
		ix.indexPath+".ids.json",
		ix.generationPath(),
		ix.metadataPath,
	)
	if err != nil {
		ix.logger.Debug("Disk usage unavailable", zap.Error(err))
	}
	return &models.IndexStats{
		TotalImages:        len(ix.records),
		IndexSize:          ix.vectors.Size(),
		FeatureDimension:   ix.vectors.Dimensions(),
		IndexFileExists:    fileExists(ix.indexPath),
		MetadataFileExists: fileExists(ix.metadataPath),
		IndexType:          ix.vectors.Type(),
		DiskUsageBytes:     usage,
		Generation:         ix.gen,
	}
}

// Close releases the vector index and metadata store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var errs []error
	if err := ix.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if ix.store != nil {
		if err := ix.store.Close(); err != nil {
			errs = append(errs, err)
		}
		ix.store = nil
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
