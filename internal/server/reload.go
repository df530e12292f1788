package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/logging"
)

// DefaultDebounce is how long the reloader waits after the last change.
const DefaultDebounce = 500 * time.Millisecond

// Reloadable is anything that can re-read its configuration on demand.
type Reloadable interface {
	ReloadCatalogue() error
}

// Reloader watches the catalogue file and triggers a debounced reload. It
// watches the parent directory so editors that replace the file by rename
// are picked up.
type Reloader struct {
	watcher  *fsnotify.Watcher
	target   Reloadable
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewReloader creates a watcher for path.
func NewReloader(target Reloadable, path string, logger *zap.Logger) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("no catalogue file to watch")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	return &Reloader{
		watcher:  watcher,
		target:   target,
		path:     abs,
		debounce: DefaultDebounce,
		logger:   logging.OrNop(logger),
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (r *Reloader) SetDebounce(d time.Duration) { r.debounce = d }

// Run reloads on change until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	if err := r.target.ReloadCatalogue(); err != nil {
		r.logger.Error("hot-reload failed, keeping previous catalogue", zap.String("path", r.path), zap.Error(err))
	}
}
