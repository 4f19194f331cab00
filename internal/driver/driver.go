// Package driver implements the structural scanners that turn a source
// snapshot into a CIX blob: tree-sitter visitors per language, the
// composite driver that merges one sub-blob per family, and the
// out-of-process driver for binary sources.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// ScanFailure records a region that could not be scanned. The blob that
// accompanies it is still usable.
type ScanFailure struct {
	Path     string
	Language string
	Family   string
	Reason   string
	Err      error
}

func (e *ScanFailure) Error() string {
	var b strings.Builder
	b.WriteString("driver: scan ")
	b.WriteString(e.Path)
	if e.Language != "" {
		fmt.Fprintf(&b, " (%s", e.Language)
		if e.Family != "" {
			fmt.Fprintf(&b, "/%s", e.Family)
		}
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ScanFailure) Unwrap() error { return e.Err }

// Failures flattens err into the ScanFailures it carries.
func Failures(err error) []*ScanFailure {
	if err == nil {
		return nil
	}
	var out []*ScanFailure
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Failures(e)...)
		}
		return out
	}
	if sf, ok := err.(*ScanFailure); ok {
		return []*ScanFailure{sf}
	}
	return Failures(errors.Unwrap(err))
}

// visitFunc fills blob from the syntax tree of src.
type visitFunc func(v *visitor, root *sitter.Node, blob *cix.Node)

// treeSitter is the shared shape of every single-language driver: parse,
// visit, then mark syntax errors.
type treeSitter struct {
	grammar string
	visit   visitFunc
}

func (d *treeSitter) Scan(ctx context.Context, src *lang.Source) (*cix.Node, error) {
	blob := cix.NewBlob(src.Path, src.Language)
	if len(src.Text) == 0 {
		return blob, nil
	}
	tree, err := grammar.Parse(ctx, d.grammar, src.Text)
	if err != nil {
		return blob, &ScanFailure{Path: src.Path, Language: src.Language, Reason: "parse failed", Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &visitor{src: src.Text}
	d.visit(v, root, blob)
	if !root.HasError() {
		return blob, nil
	}
	return blob, markErrors(src, root, blob)
}

// markErrors adds one ilk=error scope per syntax error and reports them.
func markErrors(src *lang.Source, root *sitter.Node, blob *cix.Node) error {
	var lines []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "ERROR" || n.IsMissing() {
			blob.Add(&cix.Node{
				Kind:    cix.KindScope,
				Ilk:     cix.IlkError,
				Name:    "error",
				Line:    grammar.Line(n),
				LineEnd: grammar.EndLine(n),
				Attrs:   cix.AttrHidden,
			})
			lines = append(lines, fmt.Sprint(grammar.Line(n)))
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	if len(lines) == 0 {
		return nil
	}
	return &ScanFailure{
		Path:     src.Path,
		Language: src.Language,
		Reason:   "syntax error at line " + strings.Join(lines, ", "),
	}
}

// visitor carries the source text through a tree walk.
type visitor struct {
	src []byte
}

func (v *visitor) text(n *sitter.Node) string {
	return grammar.Text(n, v.src)
}

func (v *visitor) field(n *sitter.Node, name string) string {
	if n == nil {
		return ""
	}
	return v.text(n.ChildByFieldName(name))
}

func (v *visitor) scope(n *sitter.Node, ilk cix.Ilk, name string) *cix.Node {
	return &cix.Node{
		Kind:    cix.KindScope,
		Ilk:     ilk,
		Name:    name,
		Line:    grammar.Line(n),
		LineEnd: grammar.EndLine(n),
	}
}

func (v *visitor) variable(n *sitter.Node, name, citdl string) *cix.Node {
	return &cix.Node{
		Kind:  cix.KindVariable,
		Ilk:   cix.IlkVariable,
		Name:  name,
		Line:  grammar.Line(n),
		Citdl: citdl,
	}
}

// named iterates over the named children of n.
func named(n *sitter.Node, fn func(c *sitter.Node)) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		fn(n.NamedChild(i))
	}
}

// declare adds child to scope unless a variable of the same name exists.
// A later assignment only fills in a missing citdl.
func declare(scope, child *cix.Node) *cix.Node {
	if child.Kind == cix.KindVariable {
		if prev := scope.Child(child.Name); prev != nil && prev.Kind == cix.KindVariable {
			if prev.Citdl == "" {
				prev.Citdl = child.Citdl
			}
			return prev
		}
	}
	return scope.Add(child)
}

// namingAttrs applies the leading-underscore privacy convention.
func namingAttrs(name string) cix.Attr {
	switch {
	case strings.HasPrefix(name, "__") && !strings.HasSuffix(name, "__"):
		return cix.AttrPrivate
	case strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "__"):
		return cix.AttrProtected
	}
	return 0
}

// unquote strips one level of string delimiters.
func unquote(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// firstLine trims a docstring to its summary line.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
