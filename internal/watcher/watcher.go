// Package watcher reloads the window markup when its file changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/chartbus/internal/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Config holds watcher configuration options.
type Config struct {
	// Path is the markup file to watch.
	Path     string
	Debounce time.Duration
}

// Watcher signals debounced changes to one file.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
}

// New creates a watcher on the directory holding cfg.Path. Watching the
// directory keeps working across editors that save by rename.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher: empty path")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	path := filepath.Clean(cfg.Path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{fsWatcher: fsw, path: path, debounce: cfg.Debounce}, nil
}

// Run calls onChange once per burst of writes to the file until ctx is done.
// An onChange error is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func() error) error {
	defer func() { _ = w.fsWatcher.Close() }()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.isRelevant(event) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			log.Info(log.CatWatcher, "markup changed", "path", w.path)
			if err := onChange(); err != nil {
				log.ErrorErr(log.CatWatcher, "reload failed", err, "path", w.path)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Warn(log.CatWatcher, "watch error", "path", w.path, "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
