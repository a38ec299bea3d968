package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codexturn/codexturn/internal/codexlog"
)

// Watcher reloads Config whenever CODEX_HOME/config.toml changes on disk,
// letting a long-lived Session pick up approval/sandbox policy edits
// between turns without a restart.
type Watcher struct {
	mu       sync.RWMutex
	current  *Config
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	debounce time.Duration
}

// NewWatcher loads the current config and starts watching its file for
// writes. Callers must call Close when done.
func NewWatcher() (*Watcher, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(cfg.CodexHome); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{current: cfg, watcher: fw, cancel: cancel, debounce: 200 * time.Millisecond}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	log := codexlog.For("config")
	configPath := filepath.Join(w.current.CodexHome, "config.toml")
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(configPath) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				cfg, err := Load()
				if err != nil {
					log.Warn().Err(err).Msg("config reload failed, keeping previous config")
					return
				}
				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()
				log.Info().Msg("config reloaded")
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
