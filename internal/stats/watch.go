package stats

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TempWatcher watches a storage root's tmp/ directory and debounces a
// callback whenever staging activity settles, so a dashboard can show a
// live "pull in progress" indicator without polling. Debouncing follows
// the same pattern as the teacher's doc-preview file watcher: a single
// timer reset on every event, firing only once activity pauses.
type TempWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	delay   time.Duration

	mu    sync.Mutex
	timer *time.Timer

	Logger *slog.Logger
}

// NewTempWatcher opens an fsnotify watch on <root>/tmp. delay controls
// the debounce window (callers typically use a few hundred milliseconds).
func NewTempWatcher(root string, delay time.Duration) (*TempWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("stats: create tmp watcher: %w", err)
	}
	tmpDir := filepath.Join(root, "tmp")
	if err := w.Add(tmpDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("stats: watch %s: %w", tmpDir, err)
	}
	return &TempWatcher{watcher: w, root: root, delay: delay}, nil
}

func (t *TempWatcher) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Run blocks, invoking onSettled after delay has elapsed with no further
// filesystem events, until ctx is cancelled.
func (t *TempWatcher) Run(ctx context.Context, onSettled func()) error {
	defer t.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return nil
			}
			_ = ev
			t.debounce(onSettled)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return nil
			}
			t.logger().Warn("tmp watcher error", "error", err)
		}
	}
}

func (t *TempWatcher) debounce(onSettled func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, onSettled)
}
