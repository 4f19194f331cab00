package main

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the scan database",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored trees per language",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <file>...",
	Short: "Drop the stored trees of files so the next query rescans them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheInvalidate,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	root, err := cwdRoot()
	if err != nil {
		return outputError("cache stats", err)
	}
	e, err := openEngine(root)
	if err != nil {
		return outputError("cache stats", err)
	}
	defer e.Close()

	st, err := e.Stats()
	if err != nil {
		return outputError("cache stats", err)
	}
	return outputResult(CLIResult{Command: "cache stats", Results: CLIStats{
		Blobs:      st.Stored.Blobs,
		Bytes:      st.Stored.Bytes,
		ByLanguage: st.Stored.ByLanguage,
		Hits:       st.Hits,
		Misses:     st.Misses,
		Scans:      st.Scans,
		Evictions:  st.Evictions,
		Pending:    st.PendingScans,
	}})
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	root, err := cwdRoot()
	if err != nil {
		return outputError("cache invalidate", err)
	}
	e, err := openEngine(root)
	if err != nil {
		return outputError("cache invalidate", err)
	}
	defer e.Close()

	var done []string
	for _, arg := range args {
		path, err := resolveFilePath(arg)
		if err != nil {
			return outputError("cache invalidate", err)
		}
		if err := e.Invalidate(path); err != nil {
			return outputError("cache invalidate", err)
		}
		done = append(done, path)
	}
	return outputResult(CLIResult{Command: "cache invalidate", Results: done})
}
