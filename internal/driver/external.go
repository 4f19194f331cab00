package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/lang"
)

// binarySniffLen is how much of a source is inspected for NUL bytes.
const binarySniffLen = 8 << 10

// DefaultExternalTimeout bounds an out-of-process scan.
const DefaultExternalTimeout = 10 * time.Second

// IsBinary reports whether text looks like a non-text source.
func IsBinary(text []byte) bool {
	return bytes.IndexByte(text[:min(len(text), binarySniffLen)], 0) >= 0
}

// External scans a source in a child process. The source path is appended
// to Argv and the source text is written to the child's stdin; the child
// prints a CIX document on stdout. Crashes, timeouts and malformed output
// all yield an empty blob and a ScanFailure.
type External struct {
	Argv    []string
	Timeout time.Duration
}

func (e *External) Scan(ctx context.Context, src *lang.Source) (*cix.Node, error) {
	blob := cix.NewBlob(src.Path, src.Language)
	fail := func(reason string, err error) (*cix.Node, error) {
		return blob, &ScanFailure{Path: src.Path, Language: src.Language, Reason: reason, Err: err}
	}
	if len(e.Argv) == 0 {
		return fail("binary source and no external scanner configured", nil)
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExternalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, e.Argv[1:]...), src.Path)
	cmd := exec.CommandContext(ctx, e.Argv[0], args...)
	cmd.Stdin = bytes.NewReader(src.Text)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Sprintf("external scanner timed out after %s", timeout), ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return fail("external scanner failed", err)
	}
	_, root, err := cix.Unmarshal(stdout.Bytes())
	if err != nil {
		return fail("external scanner produced invalid CIX", err)
	}
	if root.Lang == "" {
		root.Lang = src.Language
	}
	root.Name = src.Path
	return root, nil
}

// For picks the driver for a source: binary sources go out of process,
// text sources use the language's own driver. A language without a driver
// yields empty blobs.
func For(d *lang.Descriptor, src *lang.Source, externalTimeout time.Duration) lang.Driver {
	if IsBinary(src.Text) {
		return &External{Argv: d.ExternalScanner, Timeout: externalTimeout}
	}
	if d.Driver == nil {
		return empty{}
	}
	return d.Driver
}

type empty struct{}

func (empty) Scan(_ context.Context, src *lang.Source) (*cix.Node, error) {
	return cix.NewBlob(src.Path, src.Language), nil
}
