package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce is how long the watcher waits after the last change.
const DefaultReloadDebounce = 250 * time.Millisecond

// ConfigWatcher triggers a reload when the config file changes. The parent
// directory is watched so editors that save by rename keep working.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewConfigWatcher creates a watcher for path.
func NewConfigWatcher(path string, debounce time.Duration, logger *zap.Logger) *ConfigWatcher {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	return &ConfigWatcher{path: filepath.Clean(path), debounce: debounce, logger: logger}
}

// Run calls onChange once per burst of changes until ctx is cancelled.
func (w *ConfigWatcher) Run(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Debug("watching config", zap.String("path", w.path))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config change detected", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
