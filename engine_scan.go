package codeintel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/jward/codeintel/internal/watch"
)

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// ScanReport summarizes a directory scan.
type ScanReport struct {
	Files  int
	Failed int
	// Removed counts stored trees dropped because their file left root.
	Removed int
}

// ScanDirectory scans every file under root in a registered language. If
// root is inside a git repository, git ls-files decides which files count;
// otherwise the filesystem is walked honoring root/.gitignore. Configured
// exclude patterns apply in both cases. Unchanged files are served from the
// scan database. Per-file errors do not stop the scan and are returned
// together.
func (e *Engine) ScanDirectory(ctx context.Context, root string) (ScanReport, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return ScanReport{}, fmt.Errorf("codeintel: scan directory: %w", err)
	}
	paths, err := e.gitListFiles(root)
	if err != nil {
		paths, err = e.walkListFiles(root)
		if err != nil {
			return ScanReport{}, fmt.Errorf("codeintel: scan directory: %w", err)
		}
	}
	paths = slices.DeleteFunc(paths, func(p string) bool {
		return watch.Excluded(root, p, e.cfg.Scan.Exclude)
	})

	report, err := e.ScanFiles(ctx, paths)
	removed, perr := e.prune(root, paths)
	report.Removed = removed
	if perr != nil {
		e.logger.Warn("prune failed", "root", root, "error", perr)
	}
	if werr := e.watch(root); werr != nil {
		e.logger.Warn("file watcher not started", "root", root, "error", werr)
	}
	return report, err
}

// prune invalidates stored trees under root for files not in listed.
func (e *Engine) prune(root string, listed []string) (int, error) {
	stored, err := e.db.Paths()
	if err != nil {
		return 0, err
	}
	keep := make(map[string]bool, len(listed))
	for _, p := range listed {
		keep[p] = true
	}
	prefix := root + string(filepath.Separator)
	removed := 0
	for _, p := range stored {
		if keep[p] || !strings.HasPrefix(p, prefix) {
			continue
		}
		if _, open := e.Buffer(p); open {
			continue
		}
		if err := e.db.Invalidate(p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ScanFiles scans paths with at most the configured number of workers.
// Paths with an open buffer are skipped; the buffer's tree is
// authoritative over the file on disk.
func (e *Engine) ScanFiles(ctx context.Context, paths []string) (ScanReport, error) {
	var (
		mu     sync.Mutex
		errs   []error
		report ScanReport
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, path := range paths {
		d, ok := e.registry.ForFile(path)
		if !ok {
			continue
		}
		if _, open := e.Buffer(path); open {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := e.db.LoadFile(ctx, path, d)
			mu.Lock()
			defer mu.Unlock()
			report.Files++
			if err != nil {
				report.Failed++
				errs = append(errs, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("codeintel: scan: %w", err)
	}
	if len(errs) > 0 {
		e.logger.Warn("scan finished with errors", "files", report.Files, "failed", report.Failed)
		return report, fmt.Errorf("codeintel: scan had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	e.logger.Debug("scan finished", "files", report.Files)
	return report, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to registered languages.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		abs := filepath.Join(root, line)
		if _, ok := e.registry.ForFile(abs); ok {
			paths = append(paths, abs)
		}
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, skipping hidden
// directories, dependency directories and anything root/.gitignore ignores.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		gi = nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		name := d.Name()
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if _, ok := e.registry.ForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
