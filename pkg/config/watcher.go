package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// Watch re-parses the config file on change and hands the result to
// apply. Both the file and its directory are watched so symlink swaps
// (ConfigMap-style mounts) trigger a reload. Events are debounced; a
// file that fails to parse keeps the previous configuration in effect.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(*FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	_ = watcher.Add(path) // best-effort; the file may be replaced by a symlink later

	reload := func() {
		cfg, err := Parse(path)
		if err != nil {
			logging.LogEvent("config_reload_failed", map[string]interface{}{
				"file":  path,
				"error": err.Error(),
			})
			return
		}
		apply(cfg)
		logging.LogEvent("config_reloaded", map[string]interface{}{
			"file": path,
		})
	}

	var (
		pending bool
		last    time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(path) && filepath.Dir(ev.Name) != dir {
				continue
			}
			if !pending || time.Since(last) > 250*time.Millisecond {
				pending = true
				last = time.Now()
				// Slight delay to let the file settle before re-reading
				go func() { time.Sleep(300 * time.Millisecond); reload() }()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.LogEvent("config_watcher_error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
