package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchForEdits watches path's directory for writes to path itself and
// calls onChange (debounced) when one is observed. It never reloads the
// config mid-run; the caller decides what "changed" means for the CLI
// surface (e.g. printing a "re-run audit to pick up the change" notice
// before the next sync).
func WatchForEdits(ctx context.Context, path string, onChange func(), log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	base := filepath.Base(path)
	const debounceDelay = 500 * time.Millisecond

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) || filepath.Base(event.Name) != base {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, onChange)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", werr)
			}
		}
	}()

	return nil
}
