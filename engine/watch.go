package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/xraph/volley"
)

// WatchConfig reloads the configuration file at path whenever it is
// written or replaced, until ctx is cancelled. The parent directory is
// watched so editors that save by rename are picked up. A file that fails
// to parse or validate is logged and the running configuration is kept.
func (e *Engine) WatchConfig(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("engine: watch config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("engine: create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("engine: watch %s: %w", filepath.Dir(abs), err)
	}
	e.logger.Info("watching configuration", slog.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				e.logger.Debug("configuration changed", slog.String("op", event.Op.String()))
				e.reloadFrom(abs)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Error("fsnotify error", slog.String("error", werr.Error()))
		}
	}
}

func (e *Engine) reloadFrom(path string) {
	f, err := volley.ReadFile(path)
	if err != nil {
		e.logger.Warn("configuration reload skipped",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.Reload(f); err != nil {
		e.logger.Warn("configuration reload rejected",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
