package mcpstore

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher folds external edits of the config file back into the store.
type Watcher struct {
	store    *Store
	notifier *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Watch monitors the config file for changes. Events are debounced, then
// the store reloads from disk and onChange runs. The parent directory is
// watched rather than the file itself, so atomic rename-replace writes
// (including the store's own persists) keep being observed.
//
// A debounce of zero or less uses a 250ms default. onChange may be nil.
func (s *Store) Watch(debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("mcpstore: create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := notifier.Add(dir); err != nil {
		notifier.Close()
		return nil, fmt.Errorf("mcpstore: watch %s: %w", dir, err)
	}
	w := &Watcher{
		store:    s,
		notifier: notifier,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run(debounce, onChange)
	s.log.Info("watching config file", zap.String("path", s.path))
	return w, nil
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.notifier.Close()
	})
	<-w.done
	return nil
}

func (w *Watcher) run(debounce time.Duration, onChange func()) {
	defer close(w.done)
	base := filepath.Base(w.store.path)

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				pending = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
		case <-pending:
			timer = nil
			pending = nil
			if err := w.store.Reload(); err != nil {
				w.store.log.Warn("config reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			w.store.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
