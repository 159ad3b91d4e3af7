package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces the burst of events editors emit per save.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads a manifest whenever it changes on disk.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
}

// NewWatcher creates a watcher for the manifest at path.
func NewWatcher(loader *Loader, path string) *Watcher {
	return &Watcher{
		loader:   loader,
		path:     path,
		debounce: watchDebounce,
	}
}

// Watch blocks until ctx ends, invoking onChange with each manifest
// that loads cleanly after a change. A manifest that fails to load is
// logged and skipped, so a half-saved file does not end watch mode.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors that replace
	// the file on save would otherwise drop the watch.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	log.Debug().Str("path", w.path).Msg("Watching manifest")

	var reloadTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.debounce, func() {
				w.reload(ctx, onChange)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Manifest watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, onChange func(*Manifest)) {
	m, err := w.loader.Load(ctx, w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Manifest reload failed")
		return
	}
	log.Info().Str("path", w.path).Int("units", len(m.Units)).Msg("Manifest reloaded")
	onChange(m)
}
