package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fixture struct {
	catalog string
	images  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	if err := os.Mkdir(images, 0755); err != nil {
		t.Fatal(err)
	}
	catalog := filepath.Join(dir, "questions.csv")
	if err := os.WriteFile(catalog, []byte("filename,answer\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return fixture{catalog: catalog, images: images}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	w := NewWatcher(f.catalog, f.images, func(context.Context) { calls.Add(1) }, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for _, name := range []string{"q1.jpg", "q2.png", "q3.webp"} {
		if err := os.WriteFile(filepath.Join(f.images, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(f.catalog, []byte("filename,answer\nq1.jpg,1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one rebuild for the burst, got %d", got)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	w := NewWatcher(f.catalog, f.images, func(context.Context) { calls.Add(1) }, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(f.images, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(f.catalog), "other.csv"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("unrelated files triggered %d rebuilds", got)
	}
}

func TestWatcher_StopCancelsPending(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	w := NewWatcher(f.catalog, f.images, func(context.Context) { calls.Add(1) }, WithDebounce(300*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.images, "q1.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(500 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no rebuild after Stop, got %d", got)
	}
}

func TestWatcher_Relevant(t *testing.T) {
	w := NewWatcher("/data/questions.csv", "/data/images", func(context.Context) {})
	tests := []struct {
		path string
		want bool
	}{
		{"/data/questions.csv", true},
		{"/data/images/q1.JPG", true},
		{"/data/images/q1.webp", true},
		{"/data/images/readme.md", false},
		{"/data/images/sub/q1.jpg", false},
		{"/data/other.csv", false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcher_StartWithMissingTargets(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(filepath.Join(dir, "gone", "q.csv"), filepath.Join(dir, "gone", "images"), func(context.Context) {})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Error("expected error when nothing can be watched")
	}
}
