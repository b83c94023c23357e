// Package watcher turns files dropped into inbox directories into uploads.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches inbox directories (not their subdirectories) and calls onFile once a
// matching file stops changing.
type Watcher struct {
	roots      []string
	extensions []string
	onFile     func(path string)
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	timers     map[string]*time.Timer
	done       chan struct{}
	started    bool
	logger     *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before onFile is called.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. extensions filters which files are reported
// (empty = all).
func NewWatcher(roots []string, extensions []string, onFile func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		onFile:     onFile,
		debounce:   defaultDebounce,
		timers:     make(map[string]*time.Timer),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts watching. It runs until ctx is cancelled or Stop is called. Missing roots
// are created. A stopped watcher can be started again.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	for i, root := range w.roots {
		abs, err := addRoot(fw, root)
		if err != nil {
			_ = fw.Close()
			w.mu.Unlock()
			return err
		}
		w.roots[i] = abs
	}
	done := make(chan struct{})
	w.watcher = fw
	w.done = done
	w.started = true
	w.logger.Info("inbox watcher started", zap.Strings("directories", w.roots), zap.Strings("extensions", w.extensions))
	w.mu.Unlock()
	go w.run(ctx, fw, done)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if !w.inRoot(path) || ignored(path) || !matchExtension(path, w.extensions) {
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		w.schedule(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
	}
}

// inRoot reports whether path sits directly inside one of the roots.
func (w *Watcher) inRoot(path string) bool {
	dir := filepath.Dir(filepath.Clean(path))
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if filepath.Clean(root) == dir {
			return true
		}
	}
	return false
}

// ignored skips dotfiles and editor or office lock files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") || strings.HasSuffix(base, "~")
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		stopped := !w.started
		w.mu.Unlock()
		if stopped {
			return
		}
		w.logger.Debug("inbox file ready", zap.String("path", path))
		if w.onFile != nil {
			w.onFile(path)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func addRoot(fw *fsnotify.Watcher, root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	if err := fw.Add(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// AddDirectory starts watching root. Adding a root twice is a no-op.
func (w *Watcher) AddDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if w.watcher != nil {
		if _, err := addRoot(w.watcher, abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("inbox directory added", zap.String("path", abs))
	return nil
}

// RemoveDirectory stops watching root. The current document is not affected.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		_ = w.watcher.Remove(abs)
	}
	for path, t := range w.timers {
		if filepath.Dir(path) == abs {
			t.Stop()
			delete(w.timers, path)
		}
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("inbox directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the watched directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and releases resources. Pending callbacks are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	close(w.done)
	w.started = false
	w.mu.Unlock()
}
