package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when its file is written or replaced.
// Only settings that can change at runtime are acted on by callers; the
// rest need a restart.
//
// The parent directory is watched rather than the file, so that editors
// and deploy tools that write a temporary file and rename it over the
// original keep triggering reloads.
type Watcher struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current *Config
}

// NewWatcher creates a watcher for path holding cfg as the current value.
func NewWatcher(path string, cfg *Config, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, logger: logger, current: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch calls onChange with each successfully reloaded configuration until
// ctx is done. A file that fails to load keeps the previous configuration.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if _, err := os.Stat(w.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	w.logger.Info("watching config file for changes", slog.String("path", w.path))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				w.logger.Debug("config watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					// The file is usually replaced right away; its Create
					// event triggers the reload.
					w.logger.Debug("config file moved away", slog.String("path", w.path))
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Error("failed to reload config",
						slog.String("error", err.Error()),
						slog.String("path", w.path))
					continue
				}
				w.logger.Info("config reloaded", slog.String("path", w.path))

				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()

				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the file.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
