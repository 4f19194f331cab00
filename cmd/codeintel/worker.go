package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/languages"
)

// workerCmd is the reference external scanner: configure it as
// external_scanner = ["codeintel", "cix-worker"] for a language.
var workerCmd = &cobra.Command{
	Use:    "cix-worker <path>",
	Short:  "Scan source read from stdin and print CIX XML",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanWorker(cmd.Context(), args[0], os.Stdin, os.Stdout, os.Stderr)
	},
}

// scanWorker scans the text read from r as the language of path and writes
// the CIX document to w. NUL bytes are blanked so the in-process driver
// sees text. Partial trees are still written; their failures go to stderr.
func scanWorker(ctx context.Context, path string, r io.Reader, w, stderr io.Writer) error {
	reg := lang.NewRegistry()
	if err := languages.Register(reg, nil); err != nil {
		return err
	}
	d, ok := reg.ForFile(path)
	if !ok {
		return &lang.UnknownLanguageError{Name: path}
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	text = bytes.ReplaceAll(text, []byte{0}, []byte{' '})

	root := cix.NewBlob(path, d.Name)
	if d.Driver != nil {
		src := buffer.New(path, d, string(text)).Snapshot()
		scanned, err := d.Driver.Scan(ctx, src)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: %s\n", err)
		}
		if scanned != nil {
			root = scanned
		}
	}
	data, err := cix.Marshal(path, root)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
