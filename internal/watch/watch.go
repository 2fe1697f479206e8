// Package watch re-runs a sync when an archive on disk changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const minTick = 10 * time.Millisecond

// TriggerFunc is called with the absolute archive path once the archive has
// been quiet for the debounce interval.
type TriggerFunc func(ctx context.Context, archivePath string)

// Watcher monitors a set of archive files. Each archive's parent directory is
// watched rather than the file itself, so archives replaced by rename are
// still seen.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	targets   map[string]struct{}
	debounce  time.Duration
	trigger   TriggerFunc
	logger    *slog.Logger

	// archive path -> time of the last change not yet acted on
	pending   map[string]time.Time
	pendingMu sync.Mutex
}

// New creates a watcher for the given archive paths. The archives need not
// exist yet, but their directories must.
func New(paths []string, debounce time.Duration, trigger TriggerFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no archives to watch")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		targets:   make(map[string]struct{}),
		debounce:  debounce,
		trigger:   trigger,
		logger:    logger,
		pending:   make(map[string]time.Time),
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		w.targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			fsWatcher.Close()
			return nil, fmt.Errorf("archive directory %s is not usable: %v", dir, err)
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// Run delivers triggers until ctx is done and then releases the watcher.
// Triggers run on the Run goroutine one at a time; a slow sync delays the
// next trigger instead of overlapping it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()

	tick := w.debounce / 4
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for _, path := range w.stablePaths(now) {
				w.logger.Info("archive changed", "archive", path)
				w.trigger(ctx, path)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if _, ok := w.targets[event.Name]; !ok {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = time.Now()
	w.pendingMu.Unlock()
}

// stablePaths returns and forgets archives quiet since the debounce interval.
func (w *Watcher) stablePaths(now time.Time) []string {
	threshold := now.Add(-w.debounce)

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	var stable []string
	for path, last := range w.pending {
		if !last.After(threshold) {
			stable = append(stable, path)
			delete(w.pending, path)
		}
	}
	return stable
}
