package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []int64{10, 11, 12}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 10 || results[1].ID != 11 {
		t.Errorf("unexpected order: %d, %d", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v", results)
	}
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{7, 3, 5}, [][]float32{{1, 0}, {1, 0}, {1, 0}})

	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{7, 3, 5}
	for i, r := range results {
		if r.ID != want[i] {
			t.Errorf("rank %d: got id %d, want %d", i, r.ID, want[i])
		}
	}
}

func TestMemoryIndex_KLargerThanSize(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{1}, [][]float32{{0, 1}})
	results, err := idx.Search(ctx, []float32{0, 1}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestMemoryIndex_SearchEmpty(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.bin")

	idx, _ := NewMemoryIndex(3)
	_ = idx.Add(ctx, []int64{4, 2, 9}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	idx2, _ := NewMemoryIndex(3)
	if err := idx2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx2.Size() != 3 {
		t.Errorf("after Load size=%d, want 3", idx2.Size())
	}
	ids := idx2.IDs()
	if len(ids) != 3 || ids[0] != 4 || ids[1] != 2 || ids[2] != 9 {
		t.Errorf("IDs after Load = %v", ids)
	}
	results, _ := idx2.Search(ctx, []float32{0, 0, 1}, 1)
	if len(results) != 1 || results[0].ID != 9 {
		t.Errorf("Search after Load: got %v", results)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the index file after save, found %d entries", len(entries))
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil {
		t.Errorf("Load missing file should not error: %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("size=%d", idx.Size())
	}
}

func TestMemoryIndex_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewMemoryIndex(3)
	_ = idx.Add(context.Background(), []int64{1}, [][]float32{{1, 0, 0}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewMemoryIndex(4)
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMemoryIndex_LoadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewMemoryIndex(3)
	_ = idx.Add(context.Background(), []int64{1, 2}, [][]float32{{1, 0, 0}, {0, 1, 0}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-5], 0644); err != nil {
		t.Fatal(err)
	}
	fresh, _ := NewMemoryIndex(3)
	if err := fresh.Load(path); err == nil {
		t.Error("expected error for truncated file")
	}
	if fresh.Size() != 0 {
		t.Errorf("failed load must leave index untouched, size=%d", fresh.Size())
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	if err := idx.Add(ctx, []int64{1}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected error for dimension mismatch on Add")
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected error for dimension mismatch on Search")
	}
	if err := idx.Add(ctx, []int64{1, 2}, [][]float32{{1, 0, 0}}); err == nil {
		t.Error("expected error for ids/vectors length mismatch")
	}
}

func TestMemoryIndex_AddCopiesInput(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	vec := []float32{1, 0}
	_ = idx.Add(ctx, []int64{1}, [][]float32{vec})
	vec[0] = -1
	results, _ := idx.Search(ctx, []float32{1, 0}, 1)
	if len(results) != 1 || results[0].Score != 1 {
		t.Errorf("stored vector was aliased: %v", results)
	}
}

func TestInnerProduct(t *testing.T) {
	if got := InnerProduct([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Errorf("InnerProduct = %v, want 32", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths should give 0, got %v", got)
	}
}

func TestAngularToCosine(t *testing.T) {
	cases := map[float32]float64{0: 1, 1.4142135: 0, 2: -1}
	for d, want := range cases {
		got := angularToCosine(d)
		if got-want > 1e-6 || want-got > 1e-6 {
			t.Errorf("angularToCosine(%v) = %v, want %v", d, got, want)
		}
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := NewMemoryIndex(512)
	ctx := context.Background()
	vecs := make([][]float32, 2000)
	ids := make([]int64, 2000)
	for i := range vecs {
		vecs[i] = make([]float32, 512)
		vecs[i][i%512] = 1
		ids[i] = int64(i)
	}
	_ = idx.Add(ctx, ids, vecs)
	query := make([]float32, 512)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10)
	}
}
