// Package watch reports changed files under a directory tree. Events are
// debounced and delivered in batches so an editor's write-rename sequence
// invalidates a path once.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree and calls onChange with the paths that
// were written, created, removed or renamed.
type Watcher struct {
	root     string
	exclude  []string
	debounce time.Duration
	onChange func(paths []string)
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
	flushing sync.WaitGroup

	mu      sync.Mutex
	changed map[string]struct{}
	timer   *time.Timer
	closed  bool

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration (default 100ms).
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExclude skips paths matching any of the doublestar patterns, relative
// to the watched root.
func WithExclude(patterns []string) Option {
	return func(w *Watcher) { w.exclude = patterns }
}

// WithLogger sets the logger for the watcher.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New starts watching every directory under root.
func New(root string, onChange func(paths []string), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		logger:   slog.Default(),
		watcher:  fsw,
		changed:  map[string]struct{}{},
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Excluded reports whether path matches an exclude pattern.
func (w *Watcher) Excluded(path string) bool {
	return Excluded(w.root, path, w.exclude)
}

// Excluded reports whether path, taken relative to root, matches any of
// the doublestar patterns.
func Excluded(root, path string, patterns []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// Directory patterns such as **/node_modules/** also cover the directory itself.
		if ok, _ := doublestar.Match(p, rel+"/"); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.Excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if w.Excluded(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
			}
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.changed[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.changed) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.changed))
	for p := range w.changed {
		paths = append(paths, p)
	}
	w.changed = map[string]struct{}{}
	w.flushing.Add(1)
	w.mu.Unlock()
	defer w.flushing.Done()

	slices.Sort(paths)
	w.logger.Debug("files changed", "count", len(paths))
	w.onChange(paths)
}

// Close stops the watcher and releases resources. Pending changes are
// dropped; a batch already being delivered finishes first, so onChange is
// never called after Close returns. Close must not be called from onChange.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.flushing.Wait()

	w.stopOnce.Do(func() { close(w.stop) })
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
