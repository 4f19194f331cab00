package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/codeintel"
	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/driver"
)

var (
	flagDB      string
	flagConfig  string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "codeintel",
	Short:         "Code completion and calltips for single and multi-language documents",
	Long:          "Codeintel scans source files into structural trees cached in SQLite and answers completion and calltip queries at a buffer position.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run: prints help.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: db_path from the config, relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .codeintel/config.toml relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(workerCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Scan every supported file under a directory",
	Long:  "Discovers files with git ls-files (or a .gitignore-aware walk), scans changed files and stores their trees in the scan database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	e, err := openEngine(findRepoRoot(targetDir))
	if err != nil {
		return outputError("index", err)
	}
	defer e.Close()

	report, err := e.ScanDirectory(cmd.Context(), targetDir)
	out := CLIScanReport{Root: targetDir, Files: report.Files, Failed: report.Failed}
	for _, f := range driver.Failures(err) {
		out.Errors = append(out.Errors, f.Error())
	}
	if err != nil && len(out.Errors) == 0 {
		return outputError("index", err)
	}
	fmt.Fprintf(os.Stderr, "Scanned %d file(s) in %s\n", report.Files, time.Since(start).Round(time.Millisecond))
	return outputResult(CLIResult{Command: "index", Results: out})
}

// openEngine builds an Engine for a one-shot command rooted at repoRoot.
// The file watcher is never started.
func openEngine(repoRoot string, opts ...codeintel.Option) (*codeintel.Engine, error) {
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return nil, err
	}

	base := []codeintel.Option{
		codeintel.WithConfig(cfg),
		codeintel.WithRoot(repoRoot),
		codeintel.WithLogger(newLogger()),
		codeintel.WithHostIntegration(true),
	}
	e, err := codeintel.New(resolveDBPath(repoRoot, cfg), append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

func loadConfig(repoRoot string) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = filepath.Join(repoRoot, ".codeintel", "config.toml")
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the config.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	p := flagDB
	if p == "" {
		p = cfg.DBPath
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}

// cwdRoot returns the repository root of the working directory.
func cwdRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findRepoRoot(cwd), nil
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var errNoTrigger = errors.New("no trigger at position")
