package tier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a tier table file and hot-swaps the policy's table
// when the file changes. Changes are debounced so editors that write in
// multiple syscalls trigger a single reload.
type Watcher struct {
	path     string
	policy   *Policy
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given tier file.
func NewWatcher(path string, policy *Policy, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		policy:   policy,
		debounce: 100 * time.Millisecond,
		logger:   logger.With("component", "tier.watcher"),
	}
}

// Watch blocks until the context is cancelled, reloading the tier table
// on file changes. A reload that fails validation keeps the previous
// table in place and logs the error.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory, not the file: editors replace files via
	// rename, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("tier table watcher started", "path", w.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("tier table watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("tier table watch error", "error", err)

		case <-reload:
			w.reloadOnce()
		}
	}
}

func (w *Watcher) reloadOnce() {
	table, err := LoadTable(w.path)
	if err != nil {
		w.logger.Error("tier table reload failed, keeping previous table",
			"path", w.path,
			"error", err,
		)
		return
	}

	if err := w.policy.SwapTable(table); err != nil {
		w.logger.Error("tier table swap rejected",
			"path", w.path,
			"error", err,
		)
		return
	}

	w.logger.Info("tier table reloaded", "path", w.path, "tiers", len(table))
}
