package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// WatchFile calls fn after path changes on disk, once per burst of events.
// The parent directory is watched so editors that replace the file are seen.
func WatchFile(ctx context.Context, path string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	log := logger.Named("config.watch")
	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer
		for {
			select {
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isSettingsEvent(evt, path) {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, fn)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("file watcher error", "path", path, "error", err)
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			}
		}
	}()
	return nil
}
