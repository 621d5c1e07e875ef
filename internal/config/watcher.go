package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goodtune/pac-router/internal/rules"
)

// TableCallback receives every table successfully rebuilt from the file.
type TableCallback func(*rules.Table)

// ErrorCallback receives load, build and watch errors.
type ErrorCallback func(error)

// Watcher rebuilds the rule table whenever the rule file changes. Rejected
// files never reach the callback, so the caller's live table stays intact.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      TableCallback
	errorCallback ErrorCallback
	logger        *slog.Logger
	debounceDelay time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long to wait for writes to settle.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// NewWatcher creates a watcher for the rule file at path.
func NewWatcher(path string, callback TableCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        slog.Default(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file by rename are followed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	w.logger.Info("watching rule file", "path", w.path)
	go w.watch(ctx)
	return nil
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rule watcher stopped", "reason", ctx.Err())
			return

		case <-w.stopCh:
			w.logger.Info("rule watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file changed", "path", event.Name, "op", event.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			// Errors are already reported through the callback.
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rule watcher error", "error", err)
			if w.errorCallback != nil {
				w.errorCallback(err)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Reload rebuilds the table from the file now. On success the table is
// passed to the callback; on failure the error is reported and returned.
func (w *Watcher) Reload() error {
	t, err := LoadTable(w.path)
	if err != nil {
		w.logger.Error("rule reload rejected", "path", w.path, "error", err)
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return err
	}
	if w.callback != nil {
		w.callback(t)
	}
	return nil
}
