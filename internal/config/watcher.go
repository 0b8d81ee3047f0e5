package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchDir watches dir for create/write/remove events and invokes onChange
// (debounced by 100ms to coalesce editor save bursts) for as long as stop
// is open. Falls back to a 5s poll if fsnotify can't start a watch,
// following gcli2api-go's internal/config/config_watcher.go fallback.
func WatchDir(dir string, stop <-chan struct{}, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("fsnotify unavailable, falling back to polling")
		pollDir(dir, stop, onChange)
		return
	}
	if err := watcher.Add(dir); err != nil {
		log.WithError(err).WithField("dir", dir).Warn("failed to watch directory, falling back to polling")
		watcher.Close()
		pollDir(dir, stop, onChange)
		return
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		const debounceWindow = 100 * time.Millisecond

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".json" {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, onChange)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("credential directory watcher error")

			case <-stop:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

func pollDir(dir string, stop <-chan struct{}, onChange func()) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				onChange()
			case <-stop:
				return
			}
		}
	}()
}
