// Package watch reports changes to a single source file.
//
// The parent directory is watched with fsnotify so editors that save via
// rename are still seen. When fsnotify is unavailable the watcher falls
// back to polling the file's mtime and size.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var log = slog.Default()

// DefaultPollInterval is used in polling mode.
const DefaultPollInterval = time.Second

var (
	ErrFileRemoved    = errors.New("watched file was removed")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithPollInterval sets the interval used in polling mode.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithForcePoll skips fsnotify.
func WithForcePoll() Option {
	return func(w *Watcher) {
		w.forcePoll = true
	}
}

// WithOnError receives watcher errors. The default logs them.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// Watcher monitors one file.
type Watcher struct {
	path         string
	debounce     time.Duration
	pollInterval time.Duration
	forcePoll    bool
	onError      func(error)

	debouncer *Debouncer
	changeCh  chan struct{}

	mu      sync.Mutex
	started bool
	polling bool
}

// New creates a watcher for path.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:         abs,
		pollInterval: DefaultPollInterval,
		changeCh:     make(chan struct{}, 1),
		onError: func(err error) {
			log.Warn("Watch error", "path", abs, "error", err)
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounce)
	return w, nil
}

// Changed receives once per debounced change. Sends never block; at most
// one change is buffered.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changeCh
}

// Path returns the absolute watched path.
func (w *Watcher) Path() string {
	return w.path
}

// IsPolling reports whether the watcher fell back to polling.
func (w *Watcher) IsPolling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polling
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	defer w.debouncer.Cancel()

	if !w.forcePoll {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(filepath.Dir(w.path)); err == nil {
				defer fsw.Close()
				return w.runFsnotify(ctx, fsw)
			}
			fsw.Close()
		}
		log.Info("fsnotify unavailable, polling", "path", w.path, "error", err)
	}

	w.mu.Lock()
	w.polling = true
	w.mu.Unlock()
	return w.runPolling(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	target := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0:
				w.onError(ErrFileRemoved)
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.debouncer.Trigger(w.notify)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	var (
		lastMtime time.Time
		lastSize  int64
	)
	if info, err := os.Stat(w.path); err == nil {
		lastMtime, lastSize = info.ModTime(), info.Size()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				if os.IsNotExist(err) {
					if !lastMtime.IsZero() {
						w.onError(ErrFileRemoved)
						lastMtime, lastSize = time.Time{}, 0
					}
					continue
				}
				w.onError(err)
				continue
			}
			if info.ModTime().Equal(lastMtime) && info.Size() == lastSize {
				continue
			}
			lastMtime, lastSize = info.ModTime(), info.Size()
			w.debouncer.Trigger(w.notify)
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.changeCh <- struct{}{}:
	default:
	}
}
