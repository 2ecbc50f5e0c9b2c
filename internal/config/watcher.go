package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	onChange func(Config)
	log      zerolog.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for path. Each reload starts again from base
// so removed keys fall back to flag or default values.
func NewWatcher(path string, base Config, changed map[string]bool, onChange func(Config), log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		onChange: onChange,
		log:      log.With().Str("component", "config-watcher").Logger(),
	}
}

// Run watches the file's directory until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to create watcher")
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.log.Warn().Err(err).Str("dir", dir).Msg("failed to watch config directory")
		return
	}

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload(100 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.base, w.changed)
	if err != nil {
		w.log.Warn().Err(err).Msg("ignoring invalid config change")
		return
	}

	w.log.Info().Str("path", w.path).Msg("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
