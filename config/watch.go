package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"winequality/logging"
)

// Watch reloads path whenever it changes and applies log.level to level.
// Other settings need a restart. It returns once the watcher is running and
// stops when ctx is done.
func Watch(ctx context.Context, path string, level zap.AtomicLevel, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				applyLevel(path, level, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func applyLevel(path string, level zap.AtomicLevel, logger *zap.Logger) {
	cfg, err := Load(path, false)
	if err != nil {
		logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
		return
	}
	next, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return
	}
	if next != level.Level() {
		logger.Info("log level changed",
			zap.String("from", level.Level().String()),
			zap.String("to", next.String()),
		)
		level.SetLevel(next)
	}
}
