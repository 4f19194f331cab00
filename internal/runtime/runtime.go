package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/codeintel/internal/cix"
)

// Runtime embeds a Risor VM and runs hook scripts against CIX trees.
//
// Scripts resolve against an ordered list of sources: the filesystem given
// by WithRuntimeFS first, then scriptsDir on disk. Bundled scripts can
// therefore live in an embedded FS while project hooks stay on disk.
type Runtime struct {
	scriptsDir string
	sources    []fs.FS
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS puts fsys ahead of scriptsDir when loading scripts and
// resolving Risor import statements.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.sources = append(r.sources, fsys)
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log global.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime loading scripts relative to scriptsDir. An
// empty scriptsDir disables loading from disk.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
		cache:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if scriptsDir != "" {
		r.sources = append(r.sources, os.DirFS(scriptsDir))
	}
	return r
}

// RunHook runs the script at scriptPath against blob. Nodes the script adds
// are fabricated and attributed to origin; the count is returned.
func (r *Runtime) RunHook(ctx context.Context, scriptPath, origin string, blob *cix.Node) (int, error) {
	tree := NewTree(blob, origin)
	if err := r.RunScript(ctx, scriptPath, tree.Globals()); err != nil {
		return tree.Added(), err
	}
	return tree.Added(), nil
}

// RunScript loads and executes a Risor script with the log global plus any
// extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly. Useful for testing without
// script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(label, extraGlobals)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter resolves Risor imports through the same sources as
// LoadScript. Imported modules see the host globals by name.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	if len(r.sources) == 0 {
		return nil
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	return importer.NewFSImporter(importer.FSImporterOptions{
		GlobalNames: names,
		SourceFS:    layered(r.sources),
		Extensions:  []string{".risor"},
	})
}

// LoadScript returns the source of the script at p, taken from the first
// source that has it. Sources are cached for the Runtime's lifetime since
// hooks run on every blob load.
func (r *Runtime) LoadScript(p string) (string, error) {
	r.mu.Lock()
	src, ok := r.cache[p]
	r.mu.Unlock()
	if ok {
		return src, nil
	}

	data, err := r.read(p)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", p, err)
	}

	r.mu.Lock()
	r.cache[p] = string(data)
	r.mu.Unlock()
	return string(data), nil
}

// read tries each source in order. A leading separator is dropped so paths
// like "/hooks/x.risor" address the FS root; if no source has the file and
// the path is absolute it is read from disk as is.
func (r *Runtime) read(p string) ([]byte, error) {
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
	data, err := fs.ReadFile(layered(r.sources), rel)
	if err != nil && errors.Is(err, fs.ErrNotExist) && filepath.IsAbs(p) {
		return os.ReadFile(p)
	}
	return data, err
}

// buildGlobals constructs the globals every script sees. Tree globals are
// supplied per run through extra.
func (r *Runtime) buildGlobals(label string, extra map[string]any) map[string]any {
	globals := map[string]any{
		"log": mustProxy(&logObject{logger: r.logger.With("script", label)}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }

// layered is an fs.FS that opens from the first member holding the name.
type layered []fs.FS

func (l layered) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	for _, fsys := range l {
		f, err := fsys.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
