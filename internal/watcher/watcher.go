// Package watcher triggers a debounced index rebuild when the catalog file or
// the images directory changes.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultDebounce = 2 * time.Second

// imageExtensions are the files in the images directory that can affect the index.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// Watcher watches the catalog and images directory and calls onChange once
// per burst of changes.
type Watcher struct {
	catalogPath string
	imagesDir   string
	onChange    func(ctx context.Context)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	timer       *time.Timer
	ctx         context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for catalogPath and imagesDir.
func NewWatcher(catalogPath, imagesDir string, onChange func(ctx context.Context), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		catalogPath: filepath.Clean(catalogPath),
		imagesDir:   filepath.Clean(imagesDir),
		onChange:    onChange,
		debounce:    defaultDebounce,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// The catalog's directory is watched rather than the file so that editors
// replacing the file atomically are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	var added int
	for _, dir := range []string{filepath.Dir(w.catalogPath), w.imagesDir} {
		if err := watcher.Add(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("Watch target missing", zap.String("path", dir))
				continue
			}
			_ = watcher.Close()
			return err
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return errors.New("nothing to watch: catalog directory and images directory are missing")
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Info("Watching catalog for changes",
		zap.String("catalog", w.catalogPath),
		zap.String("images_dir", w.imagesDir),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || !w.relevant(ev.Name) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	w.schedule()
}

// relevant reports whether a change at path can affect the index.
func (w *Watcher) relevant(path string) bool {
	clean := filepath.Clean(path)
	if clean == w.catalogPath {
		return true
	}
	if filepath.Dir(clean) != w.imagesDir {
		return false
	}
	ext := strings.ToLower(filepath.Ext(clean))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	ctx := w.ctx
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.logger.Info("Catalog changed, rebuilding index")
		w.onChange(ctx)
	})
}

// Stop stops the watcher and releases resources. A pending rebuild is cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
