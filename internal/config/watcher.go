package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/screa/zerobits-miner/internal/logger"
)

// WatcherLoggerTag is the log tag of the configuration watcher
const WatcherLoggerTag = "config-watcher"

// Watcher signals changes to a configuration file. The file's directory
// is watched so that editors replacing the file are still seen.
type Watcher struct {
	log      *logger.Logger
	watcher  *fsnotify.Watcher
	filePath string
	change   chan struct{}
	remove   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for an existing file
func NewWatcher(fileName string, log *logger.Logger) (*Watcher, error) {
	filePath, err := filepath.Abs(filepath.Clean(fileName))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("watch %s: %w", fileName, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		log:      log,
		watcher:  w,
		filePath: filePath,
		change:   make(chan struct{}, 1),
		remove:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.filePath)); err != nil {
		w.log.Errorf("watcher add error: %v, abort", err)
		return err
	}
	go w.run()
	return nil
}

// Change receives a value after the file is written
func (w *Watcher) Change() <-chan struct{} {
	return w.change
}

// Remove receives a value after the file is removed or renamed away
func (w *Watcher) Remove() <-chan struct{} {
	return w.remove
}

// Close stops watching
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			w.log.Debugf("file event: %v", event)

			switch {
			case isRemove(event):
				w.log.Warnf("file %s removed", w.filePath)
				w.sendEvent(w.remove, "remove")
			case isChange(event):
				w.log.Info("sending config change event...")
				w.sendEvent(w.change, "change")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher error: %v", err)
		}
	}
}

func isChannelFull(ch chan<- struct{}) bool {
	return len(ch) == cap(ch)
}

// sendEvent never blocks; a pending event already covers this one
func (w *Watcher) sendEvent(ch chan<- struct{}, name string) {
	if isChannelFull(ch) {
		w.log.Debugf("event channel %s full, discard event", name)
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func isRemove(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
}

func isChange(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}
