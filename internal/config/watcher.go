package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	onChange  func(*Config)
	debounce  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	lastEvent time.Time
}

// NewWatcher creates a watcher for the config file at path. onChange gets
// each successfully reloaded config.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		watcher:  fsWatcher,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file by rename are noticed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	configLog.Info("config_watch_started", "path", w.path)
	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

// SetDebounce sets the debounce duration.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			w.lastEvent = time.Now()
			w.mu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				w.mu.Lock()
				elapsed := time.Since(w.lastEvent)
				w.mu.Unlock()

				if elapsed >= w.debounce {
					w.reload()
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watch_error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		configLog.Warn("config_reload_failed", "path", w.path, "error", err)
		return
	}
	configLog.Info("config_reloaded", "path", w.path, "authorized_users", len(cfg.Telegram.AuthorizedUsers))
	w.onChange(cfg)
}
