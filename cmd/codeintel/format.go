package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// formatCompletionText formats a CLICompletion as aligned columns, or the
// calltip alone for calltip triggers.
func formatCompletionText(w io.Writer, c CLICompletion) {
	if c.Calltip != "" {
		fmt.Fprintln(w, c.Calltip)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tILK\tSIGNATURE")
	for _, cand := range c.Candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cand.Name, cand.Ilk, cand.Signature)
	}
	tw.Flush()
}

// formatTriggerText formats a CLITrigger as one line.
func formatTriggerText(w io.Writer, t *CLITrigger) {
	if t == nil {
		fmt.Fprintln(w, "no trigger")
		return
	}
	mode := "explicit"
	if t.Implicit {
		mode = "implicit"
	}
	fmt.Fprintf(w, "%s %s at %d (%s)", t.Kind, t.Language, t.Pos, mode)
	if t.Prefix != "" {
		fmt.Fprintf(w, " prefix %q", t.Prefix)
	}
	fmt.Fprintln(w)
}

// formatNodeText formats a CLINode as an indented outline.
func formatNodeText(w io.Writer, n CLINode, depth int) {
	fmt.Fprintf(w, "%s%s %s", strings.Repeat("  ", depth), n.Ilk, n.Name)
	if n.Line > 0 {
		fmt.Fprintf(w, " :%d", n.Line)
	}
	if n.Citdl != "" {
		fmt.Fprintf(w, " <%s>", n.Citdl)
	}
	fmt.Fprintln(w)
	for _, c := range n.Children {
		formatNodeText(w, c, depth+1)
	}
}

// formatScanReportText formats a CLIScanReport as readable text.
func formatScanReportText(w io.Writer, r CLIScanReport) {
	fmt.Fprintf(w, "Root: %s\n", r.Root)
	fmt.Fprintf(w, "Files: %d\n", r.Files)
	fmt.Fprintf(w, "Failed: %d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// formatStatsText formats CLIStats as readable text.
func formatStatsText(w io.Writer, s CLIStats) {
	fmt.Fprintln(w, "Scan Database")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Blobs: %d (%d bytes)\n", s.Blobs, s.Bytes)
	if len(s.ByLanguage) > 0 {
		langs := make([]string, 0, len(s.ByLanguage))
		for l := range s.ByLanguage {
			langs = append(langs, l)
		}
		sort.Strings(langs)
		for _, l := range langs {
			fmt.Fprintf(w, "  %s: %d\n", l, s.ByLanguage[l])
		}
	}
	fmt.Fprintf(w, "Hits: %d  Misses: %d  Scans: %d  Evictions: %d\n", s.Hits, s.Misses, s.Scans, s.Evictions)
	if s.Pending > 0 {
		fmt.Fprintf(w, "Pending scans: %d\n", s.Pending)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLICompletion:
		formatCompletionText(w, v)
	case *CLITrigger:
		formatTriggerText(w, v)
	case CLINode:
		formatNodeText(w, v, 0)
	case CLIScanReport:
		formatScanReportText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case []string:
		for _, s := range v {
			fmt.Fprintln(w, s)
		}
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
