// Package watcher reacts to filesystem events on the worker's data
// files. It watches the parent directory rather than the target itself,
// since fsnotify cannot track a path through deletion and recreation.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reports removals and content changes of a single path.
type Watcher struct {
	target   string
	parent   string
	onRemove func()
	onWrite  func()
	debounce time.Duration

	fsw    *fsnotify.Watcher
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// OnRemove sets the callback for the target disappearing.
func OnRemove(fn func()) Option {
	return func(w *Watcher) { w.onRemove = fn }
}

// OnWrite sets the callback for the target's content changing. A
// rename-replace, the way editors usually save, counts as a write.
func OnWrite(fn func()) Option {
	return func(w *Watcher) { w.onWrite = fn }
}

// WithDebounce overrides the event settle window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a Watcher for the target path. At least one callback
// option should be supplied; a Watcher without callbacks only logs.
func New(target string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		target:   filepath.Clean(target),
		parent:   filepath.Dir(filepath.Clean(target)),
		debounce: defaultDebounce,
		fsw:      fsw,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins delivering events. Starting twice is a no-op. A missing
// parent directory is logged, not fatal; the watch is re-established
// once the directory exists and produces an event.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parent).Msg("Initial watch failed")
	}

	go w.loop()
	return nil
}

// Stop cancels the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parent); err != nil {
		return err
	}
	return w.fsw.Add(w.parent)
}

// loop turns raw fsnotify events into debounced callbacks. Removal is
// held for the settle window so a rename-replace resolves to a write
// instead of a remove-then-write pair.
func (w *Watcher) loop() {
	var (
		removeTimer *time.Timer
		writeTimer  *time.Timer
	)
	stopTimer := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	defer func() {
		stopTimer(removeTimer)
		stopTimer(writeTimer)
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case path == w.parent && event.Op&fsnotify.Remove != 0:
				// Data directory gone, target included.
				stopTimer(removeTimer)
				removeTimer = time.AfterFunc(w.debounce, w.fireRemove)

			case path == w.parent && event.Op&fsnotify.Create != 0:
				if err := w.addWatch(); err != nil {
					log.Warn().Err(err).Str("path", w.parent).Msg("Re-watch failed")
				}

			case path != w.target:
				// Sibling noise.

			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				stopTimer(removeTimer)
				removeTimer = time.AfterFunc(w.debounce, w.fireRemove)

			case event.Op&fsnotify.Create != 0:
				if removeTimer != nil && removeTimer.Stop() {
					// Recreated within the window: a replace, not a loss.
					removeTimer = nil
				}
				stopTimer(writeTimer)
				writeTimer = time.AfterFunc(w.debounce, w.fireWrite)

			case event.Op&fsnotify.Write != 0:
				stopTimer(writeTimer)
				writeTimer = time.AfterFunc(w.debounce, w.fireWrite)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", w.parent).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fireRemove() {
	log.Info().Str("path", w.target).Msg("Watched path removed")
	if w.onRemove != nil {
		w.onRemove()
	}

	// The parent may come back; keep watching if it does.
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := w.addWatch(); err == nil {
			log.Info().Str("path", w.parent).Msg("Watch re-established")
		}
	}()
}

func (w *Watcher) fireWrite() {
	log.Debug().Str("path", w.target).Msg("Watched path changed")
	if w.onWrite != nil {
		w.onWrite()
	}
}
