package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"mediaminer/internal/logging"
)

// DefaultWatchDebounce is how long the input tree must stay quiet before a
// change triggers a run.
const DefaultWatchDebounce = 2 * time.Second

// Watcher re-runs a batch whenever markdown notes under a directory tree are
// created or written.
type Watcher struct {
	root     string
	run      func(ctx context.Context) error
	debounce time.Duration
	ignored  []string
	logger   *slog.Logger
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period before a run.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnoredDir excludes a directory, typically the output tree, from
// triggering runs.
func WithIgnoredDir(dir string) WatchOption {
	return func(w *Watcher) {
		if dir = strings.TrimSpace(dir); dir != "" {
			w.ignored = append(w.ignored, filepath.Clean(dir))
		}
	}
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher builds a watcher that calls run for root.
func NewWatcher(root string, run func(ctx context.Context) error, opts ...WatchOption) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		run:      run,
		debounce: DefaultWatchDebounce,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "batch-watch")
	return w
}

// Watch runs once, then again after every settled burst of note changes,
// until ctx is done. Failed runs are logged and watching continues; only
// watcher setup errors are returned.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("watching for transcript notes", logging.String("dir", w.root))

	w.trigger(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fsw, event) {
				continue
			}
			w.logger.Debug("note change", logging.String("path", event.Name), logging.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case <-timer.C:
			w.trigger(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", logging.Error(err))
		}
	}
}

func (w *Watcher) trigger(ctx context.Context) {
	err := w.run(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, ErrRunInProgress):
		w.logger.Info("batch already running elsewhere; waiting for the next change")
	default:
		logging.WarnWithContext(w.logger, "batch run failed", "batch_watch_run_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next note change retries the run"),
		)
	}
}

// relevant reports whether event should schedule a run. New directories are
// added to the watch and count as a change, since notes may land in them
// before the watch does.
func (w *Watcher) relevant(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || w.isIgnored(event.Name) {
		return false
	}
	if event.Op.Has(fsnotify.Create) && isDir(event.Name) {
		if err := w.addTree(fsw, event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", logging.String("dir", event.Name), logging.Error(err))
		}
		return true
	}
	return strings.EqualFold(filepath.Ext(event.Name), ".md")
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || w.isIgnored(path)) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) isIgnored(path string) bool {
	path = filepath.Clean(path)
	for _, dir := range w.ignored {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
