package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"focusd/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// Watcher reloads the config file when it changes on disk, so tunables like
// staleness windows and the transition table take effect without a restart.
// Goroutine + buffered channel + Close, same shape as the other watchers.
type Watcher struct {
	store     *Store
	path      string
	watcher   *fsnotify.Watcher
	changeCh  chan *Config
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching the directory containing path. Watching the
// directory instead of the file survives atomic rename-based rewrites.
func NewWatcher(store *Store, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		store:    store,
		path:     path,
		watcher:  fw,
		changeCh: make(chan *Config, 1),
		closeCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
				continue
			}
			w.store.Set(cfg)
			cfgLog.Info("config_reloaded", slog.String("path", w.path))
			// Non-blocking send (drop if consumer hasn't read yet)
			select {
			case w.changeCh <- cfg:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if ok && err != nil {
				cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
			}
		}
	}
}

// Changes returns the channel receiving reloaded configs.
func (w *Watcher) Changes() <-chan *Config {
	return w.changeCh
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		_ = w.watcher.Close()
	})
}
