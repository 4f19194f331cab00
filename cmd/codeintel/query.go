package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/codeintel"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/config"
)

var (
	flagExplicit bool
	flagLanguage string
	flagTimeout  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Print the structural tree of a file",
	Long:  "Scans a file (or serves it from the scan database) and prints its CIX tree. --format text prints CIX XML.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <file> <offset>",
	Short: "Report the completion trigger at a byte offset",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrigger,
}

var completeCmd = &cobra.Command{
	Use:   "complete <file> <offset>",
	Short: "List completions or the calltip at a byte offset",
	Long:  "Detects the trigger at the byte offset and evaluates it. Offsets are 0-based byte offsets into the file.",
	Args:  cobra.ExactArgs(2),
	RunE:  runComplete,
}

func init() {
	for _, c := range []*cobra.Command{triggerCmd, completeCmd} {
		c.Flags().BoolVar(&flagExplicit, "explicit", false, "treat the request as user-invoked")
		c.Flags().StringVar(&flagLanguage, "language", "", "language name (default: from file extension)")
	}
	completeCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "how long to wait for the scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("scan", err)
	}
	root, err := cwdRoot()
	if err != nil {
		return outputError("scan", err)
	}
	e, err := openEngine(root)
	if err != nil {
		return outputError("scan", err)
	}
	defer e.Close()

	tree, err := e.Scan(cmd.Context(), path)
	if tree == nil {
		return outputError("scan", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	}
	if flagFormat == "text" {
		data, err := cix.Marshal(path, tree)
		if err != nil {
			return outputError("scan", err)
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return outputResult(CLIResult{Command: "scan", Results: nodeToCLI(tree)})
}

func runTrigger(cmd *cobra.Command, args []string) error {
	path, offset, err := fileOffsetArgs(args)
	if err != nil {
		return outputError("trigger", err)
	}
	root, err := cwdRoot()
	if err != nil {
		return outputError("trigger", err)
	}
	e, err := openEngine(root)
	if err != nil {
		return outputError("trigger", err)
	}
	defer e.Close()

	t, ok, err := openAndTrigger(e, path, offset)
	if err != nil {
		return outputError("trigger", err)
	}
	var out *CLITrigger
	if ok {
		out = triggerToCLI(t)
	}
	return outputResult(CLIResult{Command: "trigger", Results: out})
}

func runComplete(cmd *cobra.Command, args []string) error {
	path, offset, err := fileOffsetArgs(args)
	if err != nil {
		return outputError("complete", err)
	}
	root, err := cwdRoot()
	if err != nil {
		return outputError("complete", err)
	}
	e, err := openEngine(root, codeintel.WithQueryPolicy(config.PolicyWait, flagTimeout))
	if err != nil {
		return outputError("complete", err)
	}
	defer e.Close()

	ctx, cancel := withTimeout(cmd.Context(), flagTimeout)
	defer cancel()
	res, err := complete(ctx, e, path, offset)
	if err != nil {
		return outputError("complete", err)
	}
	return outputResult(CLIResult{Command: "complete", Results: res})
}

// openAndTrigger opens path as a buffer and detects the trigger at offset.
func openAndTrigger(e *codeintel.Engine, path string, offset int) (codeintel.Trigger, bool, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return codeintel.Trigger{}, false, err
	}
	if offset > len(text) {
		return codeintel.Trigger{}, false, fmt.Errorf("offset %d is past the end of %s (%d bytes)", offset, path, len(text))
	}
	if _, err := e.OpenBuffer(path, flagLanguage, string(text)); err != nil {
		return codeintel.Trigger{}, false, err
	}
	t, ok := e.TriggerAt(path, offset, flagExplicit)
	return t, ok, nil
}

// complete evaluates the trigger at offset in path.
func complete(ctx context.Context, e *codeintel.Engine, path string, offset int) (CLICompletion, error) {
	var out CLICompletion
	t, ok, err := openAndTrigger(e, path, offset)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, errNoTrigger
	}
	out.Trigger = triggerToCLI(t)
	res, err := e.Evaluate(ctx, path, t)
	if err != nil {
		return out, err
	}
	out.Candidates = make([]CLICandidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, CLICandidate{
			Name:      c.Name,
			Ilk:       string(c.Ilk),
			Signature: c.Signature,
			Type:      c.Type,
		})
	}
	out.Calltip = res.Calltip
	return out, nil
}

// fileOffsetArgs parses <file> <offset>.
func fileOffsetArgs(args []string) (string, int, error) {
	path, err := resolveFilePath(args[0])
	if err != nil {
		return "", 0, err
	}
	offset, err := parseIntArg(args[1], "offset")
	if err != nil {
		return "", 0, err
	}
	return path, offset, nil
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

func triggerToCLI(t codeintel.Trigger) *CLITrigger {
	return &CLITrigger{
		Kind:     string(t.Kind),
		Pos:      t.Pos,
		Cursor:   t.Cursor,
		Implicit: t.Implicit,
		Language: t.Language,
		Operator: t.Operator,
		Prefix:   t.Prefix,
	}
}

func nodeToCLI(n *cix.Node) CLINode {
	out := CLINode{
		Kind:      string(n.Kind),
		Ilk:       string(n.Ilk),
		Name:      n.Name,
		Lang:      n.Lang,
		Line:      n.Line,
		LineEnd:   n.LineEnd,
		Signature: n.Signature,
		Citdl:     n.Citdl,
	}
	if n.Attrs != 0 {
		out.Attributes = n.Attrs.String()
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, nodeToCLI(c))
	}
	return out
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}
