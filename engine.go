package codeintel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/citadel"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/hooks"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/languages"
	"github.com/jward/codeintel/internal/runtime"
	"github.com/jward/codeintel/internal/scandb"
	"github.com/jward/codeintel/internal/scheduler"
	"github.com/jward/codeintel/internal/trigger"
	"github.com/jward/codeintel/internal/watch"
	"github.com/jward/codeintel/scripts"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("codeintel: engine closed")

// Engine owns the language registry, the scan database, the background scan
// workers and the open buffers. All methods are safe for concurrent use.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	root      string
	scriptsFS fs.FS
	handlers  []hooks.Handler
	bundled   bool

	registry  *lang.Registry
	detector  *trigger.Detector
	evaluator *citadel.Evaluator
	pipeline  *hooks.Pipeline
	db        *scandb.DB
	sched     *scheduler.Scheduler

	mu      sync.Mutex
	buffers map[string]*buffer.Buffer
	watcher *watch.Watcher
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the built-in configuration. Options given after it
// still override individual settings.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		c := *cfg
		e.cfg = &c
	}
}

// WithLogger sets the logger for the engine and its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRoot sets the project directory. Module names for imports are
// computed relative to it, and it is watched for changes unless host
// integration is on.
func WithRoot(dir string) Option {
	return func(e *Engine) {
		e.root = dir
	}
}

// WithWorkers sets the number of background scan workers.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.cfg.Workers = n
	}
}

// WithQueryPolicy sets what Evaluate does when the buffer's tree is out of
// date: answer from the stale tree (config.PolicyStale) or wait up to
// timeout for a fresh scan (config.PolicyWait).
func WithQueryPolicy(policy string, timeout time.Duration) Option {
	return func(e *Engine) {
		e.cfg.Query.Policy = policy
		e.cfg.Query.Timeout = config.Duration{Duration: timeout}
	}
}

// WithHostIntegration marks the engine as embedded in a host that pushes
// file invalidations itself. The file watcher is not started.
func WithHostIntegration(on bool) Option {
	return func(e *Engine) {
		e.cfg.HostIntegration = on
	}
}

// WithHooks appends handlers run after the built-in and configured hooks.
func WithHooks(h ...hooks.Handler) Option {
	return func(e *Engine) {
		e.handlers = append(e.handlers, h...)
	}
}

// WithScriptsFS resolves configured hook scripts in fsys before the bundled
// scripts and the project root, so callers can embed their own via go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithoutBundledHooks skips the Risor hook scripts shipped in package
// scripts. Built-in Go handlers and configured hooks still run.
func WithoutBundledHooks() Option {
	return func(e *Engine) {
		e.bundled = false
	}
}

// New creates an Engine backed by a SQLite scan database at dbPath. An
// empty dbPath uses the configured db_path. A conflicting language
// registration is returned as *lang.DuplicateLanguageError.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     config.Default(),
		buffers: map[string]*buffer.Buffer{},
		bundled: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("codeintel: config: %w", err)
	}
	if dbPath == "" {
		dbPath = e.cfg.DBPath
		if e.root != "" && !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(e.root, dbPath)
		}
	}

	// Registration completes before any query is served.
	e.registry = lang.NewRegistry()
	if err := languages.Register(e.registry, e.cfg.Languages); err != nil {
		return nil, fmt.Errorf("codeintel: register languages: %w", err)
	}
	e.detector = trigger.NewDetector(e.registry)

	scriptsDir := e.root
	if scriptsDir == "" {
		scriptsDir = "."
	}
	rtOpts := []runtime.RuntimeOption{runtime.WithRuntimeLogger(e.logger)}
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	declared := e.cfg.Hooks
	if e.bundled {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(scripts.FS))
		declared = append(scripts.Hooks(), declared...)
	}
	rt := runtime.NewRuntime(scriptsDir, rtOpts...)
	e.pipeline = hooks.NewPipeline(e.logger, hooks.Builtin()...)
	for _, h := range hooks.FromConfig(rt, declared) {
		e.pipeline.Register(h)
	}
	for _, h := range e.handlers {
		e.pipeline.Register(h)
	}

	db, err := scandb.Open(dbPath, scandb.Options{
		Root:            e.root,
		CacheSize:       e.cfg.CacheSize,
		ExternalTimeout: e.cfg.Scan.ExternalTimeout.Duration,
		Hooks:           e.pipeline,
		Logger:          e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("codeintel: open scan db: %w", err)
	}
	e.db = db
	e.evaluator = citadel.New(db, citadel.Options{
		IncludePrivate: e.cfg.Completion.IncludePrivate,
		Fuzzy:          e.cfg.Completion.Fuzzy,
		FuzzyThreshold: e.cfg.Completion.FuzzyThreshold,
	})
	e.sched = scheduler.New(e.cfg.Workers, e.logger)

	if e.root != "" {
		if err := e.watch(e.root); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Close stops the watcher and the scan workers and closes the scan
// database. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.watcher
	e.watcher = nil
	e.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	e.sched.Close()
	errs = append(errs, e.db.Close())
	return errors.Join(errs...)
}

// Registry returns the language registry.
func (e *Engine) Registry() *lang.Registry {
	return e.registry
}

// AddHook registers h after the existing handlers. Trees already in memory
// were enriched without it, so the memory layer is dropped and later loads
// rerun the full pipeline over the persisted trees.
func (e *Engine) AddHook(h hooks.Handler) {
	e.pipeline.Register(h)
	e.db.Purge()
}

// watch starts the file watcher on root unless host integration is on, the
// watch setting is off, or a watcher already runs.
func (e *Engine) watch(root string) error {
	if !e.cfg.Watch || e.cfg.HostIntegration {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil || e.closed {
		return nil
	}
	w, err := watch.New(root, e.filesChanged,
		watch.WithExclude(e.cfg.Scan.Exclude),
		watch.WithLogger(e.logger),
	)
	if err != nil {
		return fmt.Errorf("codeintel: watch %s: %w", root, err)
	}
	e.watcher = w
	return nil
}

// filesChanged rescans changed files in the background. Open buffers are
// authoritative over disk contents and are skipped.
func (e *Engine) filesChanged(paths []string) {
	for _, path := range paths {
		if _, open := e.Buffer(path); open {
			continue
		}
		d, ok := e.registry.ForFile(path)
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if err := e.db.Invalidate(path); err != nil {
				e.logger.Warn("invalidate failed", "path", path, "error", err)
			}
			continue
		}
		e.sched.Submit(path, func(ctx context.Context) error {
			_, err := e.db.LoadFile(ctx, path, d)
			return err
		})
	}
}

// OpenBuffer starts tracking an editor buffer. language may be empty to pick
// the language from the file extension. The buffer is scanned in the
// background.
func (e *Engine) OpenBuffer(path, language, text string) (*buffer.Buffer, error) {
	d, err := e.descriptor(path, language)
	if err != nil {
		return nil, err
	}
	b := buffer.New(path, d, text)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.buffers[path] = b
	e.mu.Unlock()
	e.rescan(b, nil)
	return b, nil
}

// Buffer returns the open buffer for path.
func (e *Engine) Buffer(path string) (*buffer.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buffers[path]
	return b, ok
}

// CloseBuffer stops tracking the buffer for path. Its last tree stays in
// the scan database.
func (e *Engine) CloseBuffer(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.buffers, path)
}

// Edit replaces the bytes in [start, end) of the open buffer for path and
// schedules a rescan. A rescan already queued for the buffer is superseded.
func (e *Engine) Edit(path string, start, end int, repl string) error {
	b, ok := e.Buffer(path)
	if !ok {
		return fmt.Errorf("codeintel: edit %s: buffer not open", path)
	}
	if err := b.Edit(start, end, repl); err != nil {
		return fmt.Errorf("codeintel: edit %s: %w", path, err)
	}
	e.rescan(b, nil)
	return nil
}

// SetText replaces the whole content of the open buffer for path.
func (e *Engine) SetText(path, text string) error {
	b, ok := e.Buffer(path)
	if !ok {
		return fmt.Errorf("codeintel: set text %s: buffer not open", path)
	}
	b.SetText(text)
	e.rescan(b, nil)
	return nil
}

// rescan submits a scan of the buffer's current content. On success the
// tree is stored in *out when out is non-nil.
func (e *Engine) rescan(b *buffer.Buffer, out **cix.Node) *scheduler.Ticket {
	src := b.Snapshot()
	sig := buffer.ContentSignature(src.Text)
	d := b.Language()
	return e.sched.Submit(b.Path(), func(ctx context.Context) error {
		root, err := e.db.LoadSource(ctx, src, d, sig)
		if out != nil {
			*out = root
		}
		return err
	})
}

// Scan returns the structural tree of path. An open buffer is scanned from
// its current content, anything else from disk. A partial tree is returned
// alongside scan failures.
func (e *Engine) Scan(ctx context.Context, path string) (*cix.Node, error) {
	var root *cix.Node
	var tk *scheduler.Ticket
	if b, ok := e.Buffer(path); ok {
		tk = e.rescan(b, &root)
	} else {
		d, ok := e.registry.ForFile(path)
		if !ok {
			return nil, fmt.Errorf("codeintel: scan %s: %w", path, &lang.UnknownLanguageError{Name: filepath.Ext(path)})
		}
		tk = e.sched.Submit(path, func(ctx context.Context) error {
			var err error
			root, err = e.db.LoadFile(ctx, path, d)
			return err
		})
	}
	root, err := await(ctx, tk, &root)
	if root == nil && err != nil {
		return nil, fmt.Errorf("codeintel: scan %s: %w", path, err)
	}
	return root, err
}

// await waits for tk and returns the tree its job stored in *out. Nothing is
// read from out while the job may still be running.
func await(ctx context.Context, tk *scheduler.Ticket, out **cix.Node) (*cix.Node, error) {
	err := tk.Wait(ctx)
	select {
	case <-tk.Done():
		return *out, err
	default:
		return nil, err
	}
}

// Invalidate drops every cached tree for path.
func (e *Engine) Invalidate(path string) error {
	if err := e.db.Invalidate(path); err != nil {
		return fmt.Errorf("codeintel: invalidate %s: %w", path, err)
	}
	return nil
}

// Stats reports scan database activity and the background scan queue.
func (e *Engine) Stats() (Stats, error) {
	st, err := e.db.Stats()
	out := Stats{Stats: st, PendingScans: e.sched.Pending()}
	if err != nil {
		return out, fmt.Errorf("codeintel: stats: %w", err)
	}
	return out, nil
}

func (e *Engine) descriptor(path, language string) (*lang.Descriptor, error) {
	if language != "" {
		d, err := e.registry.Resolve(language)
		if err != nil {
			return nil, fmt.Errorf("codeintel: %w", err)
		}
		return d, nil
	}
	d, ok := e.registry.ForFile(path)
	if !ok {
		return nil, fmt.Errorf("codeintel: %s: %w", path, &lang.UnknownLanguageError{Name: filepath.Ext(path)})
	}
	return d, nil
}
