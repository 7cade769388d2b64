package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a policy file into an Engine whenever it changes on
// disk. Change events are debounced to prevent reload storms from editors
// that write in multiple steps.
type Watcher struct {
	path     string
	engine   *Engine
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the given policy file. debounce
// defaults to 100ms when zero.
func NewWatcher(path string, engine *Engine, debounce time.Duration) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("policy file path is required")
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		engine:   engine,
		debounce: debounce,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start loads the file once, then watches it for changes until the context
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	fail := func(err error) error {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	policies, err := LoadPolicies(w.path)
	if err != nil {
		return fail(err)
	}
	if err := w.engine.Replace(policies); err != nil {
		return fail(err)
	}

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fail(fmt.Errorf("failed to watch policy directory: %w", err))
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	policies, err := LoadPolicies(w.path)
	if err != nil {
		slog.Error("failed to reload fallback policies, keeping previous set",
			"path", w.path,
			"error", err,
		)
		return
	}

	if err := w.engine.Replace(policies); err != nil {
		slog.Error("failed to install reloaded fallback policies", "error", err)
		return
	}

	slog.Info("fallback policies reloaded", "path", w.path, "count", len(policies))
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
