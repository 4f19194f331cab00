// Package scandb caches structural trees per (path, signature). A bounded
// in-memory LRU sits in front of SQLite persistence. At most one scan of a
// path runs at a time; concurrent requests for it share that scan.
package scandb

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/driver"
	"github.com/jward/codeintel/internal/hooks"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/store"
)

// DefaultCacheSize is the number of trees kept in memory.
const DefaultCacheSize = 512

// Options configures a DB.
type Options struct {
	// Root is the project directory module names are computed against.
	Root            string
	CacheSize       int
	ExternalTimeout time.Duration
	Hooks           *hooks.Pipeline
	Logger          *slog.Logger
}

// Stats counts cache activity since the DB was opened.
type Stats struct {
	Hits      int64
	Misses    int64
	Scans     int64
	Evictions int64
	Cached    int
	Stored    store.Stats
}

type entry struct {
	signature string
	language  string
	root      *cix.Node // hooks applied; shared read-only
}

// DB is the scan database.
type DB struct {
	store  *store.Store
	cache  *lru.Cache[string, *entry]
	group  singleflight.Group
	opts   Options
	logger *slog.Logger

	hits, misses, scans, evictions atomic.Int64
}

// Open opens (creating if needed) the SQLite database at dbPath.
func Open(dbPath string, opts Options) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("scandb: create %s: %w", dir, err)
		}
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("scandb: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("scandb: %w", err)
	}
	db, err := New(st, opts)
	if err != nil {
		st.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an already migrated store.
func New(st *store.Store, opts Options) (*DB, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = driver.DefaultExternalTimeout
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewPipeline(opts.Logger)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{store: st, opts: opts, logger: logger}
	cache, err := lru.New[string, *entry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("scandb: %w", err)
	}
	db.cache = cache
	return db, nil
}

// Close closes the underlying store.
func (db *DB) Close() error {
	return db.store.Close()
}

// FileSignature derives the signature of an on-disk file from its metadata.
func FileSignature(fi fs.FileInfo) string {
	return fmt.Sprintf("sz:%d:mt:%d", fi.Size(), fi.ModTime().UnixNano())
}

// LoadFile returns the tree for the file at path, scanning it when the
// stored tree is missing or older than the file.
func (db *DB) LoadFile(ctx context.Context, path string, d *lang.Descriptor) (*cix.Node, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scandb: %w", err)
	}
	sig := FileSignature(fi)
	return db.load(ctx, path, d, sig, func() (*lang.Source, error) {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return buffer.New(path, d, string(text)).Snapshot(), nil
	})
}

// LoadSource returns the tree for an in-memory source with the given
// content signature.
func (db *DB) LoadSource(ctx context.Context, src *lang.Source, d *lang.Descriptor, sig string) (*cix.Node, error) {
	return db.load(ctx, src.Path, d, sig, func() (*lang.Source, error) { return src, nil })
}

// Cached returns the most recent tree known for path regardless of its
// signature, without scanning.
func (db *DB) Cached(path string) (*cix.Node, bool) {
	if e, ok := db.cache.Get(path); ok {
		return e.root, true
	}
	b, err := db.store.Get(path)
	if err != nil || b == nil {
		return nil, false
	}
	e := db.admit(context.Background(), path, b.Signature, b.Language, b.Root)
	return e.root, true
}

// Current returns the in-memory tree for path only when it was scanned
// from content with signature sig.
func (db *DB) Current(path, sig string) (*cix.Node, bool) {
	if e, ok := db.cache.Get(path); ok && e.signature == sig {
		db.hits.Add(1)
		return e.root, true
	}
	return nil, false
}

type result struct {
	sig  string
	root *cix.Node
	err  error
}

// load coalesces requests per path. Only one fill runs for a path at a
// time; a waiter whose signature differs from the finished fill's starts
// the next one, so trees are admitted in request order.
func (db *DB) load(ctx context.Context, path string, d *lang.Descriptor, sig string, source func() (*lang.Source, error)) (*cix.Node, error) {
	// The shared scan outlives any single waiter's cancellation.
	shared := context.WithoutCancel(ctx)
	for {
		if e, ok := db.cache.Get(path); ok && e.signature == sig {
			db.hits.Add(1)
			return e.root, nil
		}
		ch := db.group.DoChan(path, func() (any, error) {
			root, err := db.fill(shared, path, d, sig, source)
			return result{sig, root, err}, nil
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			res := r.Val.(result)
			if res.sig == sig {
				return res.root, res.err
			}
		}
	}
}

// fill loads path from SQLite when the stored signature matches, otherwise
// by scanning. Callers hold the path's singleflight slot.
func (db *DB) fill(ctx context.Context, path string, d *lang.Descriptor, sig string, source func() (*lang.Source, error)) (*cix.Node, error) {
	if e, ok := db.cache.Get(path); ok && e.signature == sig {
		db.hits.Add(1)
		return e.root, nil
	}

	stored, ok, err := db.store.Signature(path)
	if err != nil {
		db.logger.Warn("scan db read failed", "path", path, "error", err)
	}
	if ok && stored == sig {
		b, err := db.store.Get(path)
		if err != nil {
			db.logger.Warn("scan db read failed", "path", path, "error", err)
		}
		if b != nil && b.Signature == sig && b.Language == d.Name {
			db.hits.Add(1)
			return db.admit(ctx, path, sig, d.Name, b.Root).root, nil
		}
	}
	db.misses.Add(1)

	src, err := source()
	if err != nil {
		return nil, fmt.Errorf("scandb: reading %s: %w", path, err)
	}
	root, scanErr := driver.For(d, src, db.opts.ExternalTimeout).Scan(ctx, src)
	db.scans.Add(1)
	if root == nil {
		root = cix.NewBlob(path, d.Name)
	}
	if scanErr != nil {
		db.logger.Warn("scan failed", "path", path, "language", d.Name, "error", scanErr)
	}

	if err := db.store.Put(&store.Blob{
		Path:      path,
		Language:  d.Name,
		Module:    db.module(d.Name, path),
		Signature: sig,
		Root:      root,
	}); err != nil {
		db.logger.Warn("scan db write failed", "path", path, "error", err)
	}
	return db.admit(ctx, path, sig, d.Name, root.Clone()).root, scanErr
}

// admit runs the hook pipeline over root and caches the result.
func (db *DB) admit(ctx context.Context, path, sig, language string, root *cix.Node) *entry {
	db.opts.Hooks.Apply(ctx, root)
	e := &entry{signature: sig, language: language, root: root}
	if db.cache.Add(path, e) {
		db.evictions.Add(1)
	}
	return e
}

func (db *DB) module(language, path string) string {
	rel := path
	if db.opts.Root != "" {
		if r, err := filepath.Rel(db.opts.Root, path); err == nil {
			rel = r
		}
	}
	return ModuleName(language, rel)
}

// Import resolves an import of module by the file at fromPath to the
// stored tree of the imported file. It satisfies citadel.Importer.
func (db *DB) Import(ctx context.Context, language, fromPath, module string) (*cix.Node, bool) {
	from := db.module(language, fromPath)
	for _, name := range moduleCandidates(language, from, module) {
		b, err := db.store.ByModule(language, name)
		if err != nil {
			db.logger.Warn("module lookup failed", "path", fromPath, "language", language, "module", name, "error", err)
			continue
		}
		if b == nil || b.Path == fromPath {
			continue
		}
		if e, ok := db.cache.Get(b.Path); ok && e.signature == b.Signature {
			return e.root, true
		}
		return db.admit(ctx, b.Path, b.Signature, b.Language, b.Root).root, true
	}
	return nil, false
}

// Invalidate drops every cached tree for path.
func (db *DB) Invalidate(path string) error {
	db.cache.Remove(path)
	if err := db.store.Delete(path); err != nil {
		return fmt.Errorf("scandb: %w", err)
	}
	return nil
}

// Paths lists every path with a stored tree.
func (db *DB) Paths() ([]string, error) {
	paths, err := db.store.Paths()
	if err != nil {
		return nil, fmt.Errorf("scandb: %w", err)
	}
	return paths, nil
}

// Purge drops every in-memory tree; persisted trees are kept.
func (db *DB) Purge() {
	db.cache.Purge()
}

// Stats returns the current counters.
func (db *DB) Stats() (Stats, error) {
	st := Stats{
		Hits:      db.hits.Load(),
		Misses:    db.misses.Load(),
		Scans:     db.scans.Load(),
		Evictions: db.evictions.Load(),
		Cached:    db.cache.Len(),
	}
	stored, err := db.store.Stats()
	if err != nil {
		return st, fmt.Errorf("scandb: %w", err)
	}
	st.Stored = stored
	return st, nil
}
