// Package watcher observes locked source files for the duration of a
// compilation run. Advisory locks do not stop a non-cooperating writer, so
// the watcher records filesystem write events as corroborating evidence for
// the fingerprint check performed at lock release.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filterforge/filterforge/internal/logging"
)

// Event is one observed modification of a watched file.
type Event struct {
	Path string
	Op   string
	At   time.Time
}

// TamperWatcher watches a set of files and accumulates modification events
// until stopped. It is safe for concurrent use.
type TamperWatcher struct {
	fsw    *fsnotify.Watcher
	logger logging.Logger

	mu      sync.Mutex
	events  map[string][]Event
	watched map[string]struct{}
	done    chan struct{}
	stopped bool
}

// New creates a tamper watcher and starts its event loop. Callers must
// Stop it when the run ends.
func New(logger logging.Logger) (*TamperWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &TamperWatcher{
		fsw:     fsw,
		logger:  logger.WithComponent("tamper-watcher"),
		events:  make(map[string][]Event),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers a file for modification tracking. Paths are normalized
// to absolute form; watching the same path twice is a no-op.
func (w *TamperWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	if _, ok := w.watched[abs]; ok {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.watched[abs] = struct{}{}
	return nil
}

// Events returns the modification events recorded for a path, in arrival
// order. An empty result means no write was observed.
func (w *TamperWatcher) Events(path string) []Event {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	evs := w.events[abs]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// Modified reports whether any write, rename, or removal was observed on
// the path since watching began.
func (w *TamperWatcher) Modified(path string) bool {
	return len(w.Events(path)) > 0
}

// Stop ends the event loop and releases the underlying watcher. Safe to
// call more than once.
func (w *TamperWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *TamperWatcher) loop() {
	defer close(w.done)
	ctx := context.Background()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			w.record(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "watch error")
		}
	}
}

func (w *TamperWatcher) record(ctx context.Context, ev fsnotify.Event) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}

	w.mu.Lock()
	w.events[abs] = append(w.events[abs], Event{
		Path: abs,
		Op:   ev.Op.String(),
		At:   time.Now(),
	})
	w.mu.Unlock()

	w.logger.Warn(ctx, nil, "watched file changed during run",
		"path", abs, "op", ev.Op.String())
}
