// Package citadel resolves member paths against CIX scope chains and turns
// the result into ranked completion candidates and calltips.
package citadel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/trigger"
)

// maxDepth bounds citdl and inheritance indirection.
const maxDepth = 16

// ErrNoScope is returned when the tree has no blob for the trigger's family.
var ErrNoScope = errors.New("citadel: no blob for trigger family")

// UnresolvedPathError reports the segment whose type could not be found.
type UnresolvedPathError struct {
	Expr    string
	Segment string
}

func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("citadel: cannot resolve %q in %q", e.Segment, e.Expr)
}

// Importer loads the blob of an imported module.
type Importer interface {
	Import(ctx context.Context, language, fromPath, module string) (*cix.Node, bool)
}

// Candidate is one completion.
type Candidate struct {
	Name      string
	Ilk       cix.Ilk
	Signature string
	Type      string
	Node      *cix.Node
}

// Result is the answer to one trigger.
type Result struct {
	Kind       trigger.Kind
	Candidates []Candidate
	Calltip    string
}

// Options tune candidate filtering.
type Options struct {
	IncludePrivate bool
	Fuzzy          bool
	FuzzyThreshold float64
}

// Query is everything one evaluation needs.
type Query struct {
	Trigger trigger.Trigger
	Text    string
	Path    string
	Tree    *cix.Node
	Intel   *lang.Intelligence
}

// Evaluator answers triggers. It holds no per-query state.
type Evaluator struct {
	imports Importer
	opts    Options
}

// New creates an Evaluator. imports may be nil.
func New(imports Importer, opts Options) *Evaluator {
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = 0.8
	}
	return &Evaluator{imports: imports, opts: opts}
}

// Evaluate resolves the trigger. An unresolvable path yields an
// *UnresolvedPathError and an empty result.
func (e *Evaluator) Evaluate(ctx context.Context, q Query) (Result, error) {
	res := Result{Kind: q.Trigger.Kind}
	blob := q.Tree.BlobForFamily(q.Trigger.Family.Code())
	if blob == nil {
		return res, ErrNoScope
	}
	in := q.Intel
	if in == nil {
		in = &lang.Intelligence{}
	}
	r := &resolver{
		ctx:   ctx,
		e:     e,
		blob:  blob,
		lang:  q.Trigger.Language,
		path:  q.Path,
		chain: blob.ScopeChain(lineAt(q.Text, q.Trigger.ExprEnd)),
	}

	switch q.Trigger.Kind {
	case trigger.CompleteNames:
		res.Candidates = e.rank(r.visibleNames(), normalizeName(q.Trigger.Prefix), in)
		return res, nil

	case trigger.CompleteMembers:
		expr := Extract(q.Text, q.Trigger.ExprEnd, in)
		if len(expr) == 0 {
			return res, &UnresolvedPathError{}
		}
		node, err := r.resolve(expr)
		if err != nil {
			return res, err
		}
		members, ok := r.members(node)
		if !ok {
			return res, &UnresolvedPathError{Expr: expr.String(), Segment: expr[len(expr)-1].Name}
		}
		res.Candidates = e.rank(members, normalizeName(q.Trigger.Prefix), in)
		return res, nil

	case trigger.Calltip, trigger.CalltipArg:
		expr := Extract(q.Text, q.Trigger.ExprEnd, in)
		if len(expr) == 0 {
			return res, &UnresolvedPathError{}
		}
		node, err := r.resolve(expr)
		if err != nil {
			return res, err
		}
		res.Calltip = r.calltip(node)
		return res, nil
	}
	return res, nil
}

// lineAt returns the 1-based line containing offset.
func lineAt(text string, offset int) int {
	return strings.Count(text[:min(max(offset, 0), len(text))], "\n") + 1
}

type resolver struct {
	ctx   context.Context
	e     *Evaluator
	blob  *cix.Node
	lang  string
	path  string
	chain []*cix.Node
	depth int
}

// resolve walks expr from the head identifier through each segment's type.
func (r *resolver) resolve(expr Expr) (*cix.Node, error) {
	unresolved := func(seg string) error {
		return &UnresolvedPathError{Expr: expr.String(), Segment: seg}
	}
	node := r.lookup(r.chain, expr[0].Name)
	if node == nil {
		return nil, unresolved(expr[0].Name)
	}
	node = r.apply(node, expr[0].Call)
	if node == nil {
		return nil, unresolved(expr[0].Name)
	}
	for _, seg := range expr[1:] {
		scope := r.typeOf(node)
		if scope == nil {
			return nil, unresolved(seg.Name)
		}
		next := r.member(scope, seg.Name, 0)
		if next == nil {
			return nil, unresolved(seg.Name)
		}
		node = r.apply(next, seg.Call)
		if node == nil {
			return nil, unresolved(seg.Name)
		}
	}
	return node, nil
}

// apply evaluates a call on node: calling a class yields an instance of the
// class, calling a function yields its declared return type.
func (r *resolver) apply(node *cix.Node, call bool) *cix.Node {
	if !call {
		return node
	}
	node = r.deref(node)
	if node == nil {
		return nil
	}
	switch node.Ilk {
	case cix.IlkClass:
		return node
	case cix.IlkFunction:
		if node.Returns == "" {
			return nil
		}
		return r.citdl(node.Returns)
	}
	return nil
}

// deref follows imports and typed variables to the node they stand for.
func (r *resolver) deref(node *cix.Node) *cix.Node {
	for range maxDepth {
		switch {
		case node == nil:
			return nil
		case node.Kind == cix.KindImport:
			node = r.importNode(node)
		case node.Kind == cix.KindVariable && len(node.Children) == 0 && node.Citdl != "" && node.Citdl != node.Name:
			node = r.citdl(node.Citdl)
		default:
			return node
		}
	}
	return nil
}

// typeOf returns the scope whose members node exposes. Functions expose
// members only once called.
func (r *resolver) typeOf(node *cix.Node) *cix.Node {
	node = r.deref(node)
	if node == nil || node.Ilk == cix.IlkFunction {
		return nil
	}
	if node.IsScope() || len(node.Children) > 0 {
		return node
	}
	return nil
}

// citdl resolves a type hint from the blob's module scope.
func (r *resolver) citdl(hint string) *cix.Node {
	if r.depth >= maxDepth {
		return nil
	}
	r.depth++
	defer func() { r.depth-- }()

	expr := ParseCitdl(hint)
	if len(expr) == 0 {
		return nil
	}
	sub := &resolver{ctx: r.ctx, e: r.e, blob: r.blob, lang: r.lang, path: r.path, chain: r.chain, depth: r.depth}
	node, err := sub.resolve(expr)
	if err != nil {
		return nil
	}
	return node
}

// lookup finds name in the scope chain, innermost first; imports come last.
func (r *resolver) lookup(chain []*cix.Node, name string) *cix.Node {
	for _, scope := range chain {
		for _, c := range scope.Children {
			if c.Name == name && c.Ilk != cix.IlkError && !(c.Kind == cix.KindImport && c.Symbol == "*") {
				return c
			}
		}
	}
	for _, scope := range chain {
		for _, c := range scope.Children {
			if c.Kind != cix.KindImport || c.Symbol != "*" {
				continue
			}
			if mod := r.importBlob(c.Module); mod != nil {
				if found := mod.Child(name); found != nil {
					return found
				}
			}
		}
	}
	return nil
}

func (r *resolver) importBlob(module string) *cix.Node {
	if r.e.imports == nil || module == "" {
		return nil
	}
	blob, ok := r.e.imports.Import(r.ctx, r.lang, r.path, module)
	if !ok || blob == nil {
		return nil
	}
	blobs := blob.Blobs()
	for _, b := range blobs {
		if b.Lang == r.lang {
			return b
		}
	}
	return blobs[0]
}

func (r *resolver) importNode(imp *cix.Node) *cix.Node {
	mod := r.importBlob(imp.Module)
	if mod == nil {
		return nil
	}
	switch imp.Symbol {
	case "", "*":
		return mod
	case "default":
		// Default export: a declaration named like the module's basename,
		// else the module itself.
		base := imp.Module[strings.LastIndexAny(imp.Module, "/.")+1:]
		if found := mod.Child(base); found != nil {
			return found
		}
		return mod
	}
	return mod.Child(imp.Symbol)
}

// member finds name among the members of scope, then of its base classes.
func (r *resolver) member(scope *cix.Node, name string, depth int) *cix.Node {
	if depth > maxDepth {
		return nil
	}
	for _, c := range scope.Children {
		if c.Name == name && c.Ilk != cix.IlkError {
			return c
		}
	}
	for _, base := range r.bases(scope) {
		if m := r.member(base, name, depth+1); m != nil {
			return m
		}
	}
	return nil
}

// bases resolves the class references of a class scope.
func (r *resolver) bases(cls *cix.Node) []*cix.Node {
	var out []*cix.Node
	for _, ref := range cls.ClassRefs {
		base := r.citdl(ref)
		if base != nil && base != cls && base.IsScope() {
			out = append(out, base)
		}
	}
	return out
}

// members lists the candidates node exposes, own members shadowing
// inherited ones.
func (r *resolver) members(node *cix.Node) ([]*cix.Node, bool) {
	scope := r.typeOf(node)
	if scope == nil {
		return nil, false
	}
	var out []*cix.Node
	seen := make(map[*cix.Node]bool)
	var collect func(s *cix.Node, depth int)
	collect = func(s *cix.Node, depth int) {
		if depth > maxDepth || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s.Children...)
		for _, base := range r.bases(s) {
			collect(base, depth+1)
		}
	}
	collect(scope, 0)
	return out, true
}

// visibleNames lists everything in scope at the trigger, innermost first.
func (r *resolver) visibleNames() []*cix.Node {
	var out []*cix.Node
	for _, scope := range r.chain {
		for _, c := range scope.Children {
			if c.Kind == cix.KindImport && c.Symbol == "*" {
				if mod := r.importBlob(c.Module); mod != nil {
					out = append(out, mod.Children...)
				}
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// calltip renders the signature of a callable.
func (r *resolver) calltip(node *cix.Node) string {
	node = r.deref(node)
	if node == nil {
		return ""
	}
	switch node.Ilk {
	case cix.IlkFunction:
		return signature(node)
	case cix.IlkClass:
		for _, c := range node.Children {
			if c.Ilk == cix.IlkFunction && c.Attrs.Has(cix.AttrConstructor) {
				sig := signature(c)
				if i := strings.IndexByte(sig, '('); i >= 0 {
					return node.Name + sig[i:]
				}
			}
		}
		return node.Name + "()"
	}
	return ""
}

func signature(fn *cix.Node) string {
	sig := fn.Signature
	if sig == "" {
		sig = fn.Name + "()"
	}
	if fn.Returns != "" {
		sig += " -> " + fn.Returns
	}
	if fn.Doc != "" {
		sig += "\n" + fn.Doc
	}
	return sig
}

// rank filters, deduplicates and orders nodes into candidates.
func (e *Evaluator) rank(nodes []*cix.Node, prefix string, in *lang.Intelligence) []Candidate {
	seen := make(map[string]bool)
	var cands []Candidate
	for _, n := range nodes {
		if n.Name == "" || seen[n.Name] || !e.visible(n, prefix) {
			continue
		}
		seen[n.Name] = true
		ilk := n.Ilk
		if n.Kind == cix.KindImport {
			ilk = cix.IlkModule
		}
		cands = append(cands, Candidate{
			Name:      n.Name,
			Ilk:       ilk,
			Signature: n.Signature,
			Type:      firstNonEmpty(n.Citdl, n.Returns),
			Node:      n,
		})
	}

	if prefix != "" {
		cands = e.filterPrefix(cands, prefix)
	}
	cmp := in.Compare
	if cmp == nil {
		cmp = lang.DefaultCompare
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		return cmp(lang.CompletionKey{Name: a.Name, Ilk: a.Ilk}, lang.CompletionKey{Name: b.Name, Ilk: b.Ilk})
	})
	return cands
}

func (e *Evaluator) visible(n *cix.Node, prefix string) bool {
	if n.Attrs.Has(cix.AttrHidden) || n.Ilk == cix.IlkError || n.Name == "*" {
		return false
	}
	if e.opts.IncludePrivate || strings.HasPrefix(prefix, "_") {
		return true
	}
	return !strings.HasPrefix(n.Name, "_") && !n.Attrs.Has(cix.AttrPrivate)
}

// filterPrefix keeps candidates starting with prefix. With fuzzy matching
// on and no exact prefix match, it falls back to Jaro-Winkler similarity.
func (e *Evaluator) filterPrefix(cands []Candidate, prefix string) []Candidate {
	lp := strings.ToLower(prefix)
	var out []Candidate
	for _, c := range cands {
		if strings.HasPrefix(strings.ToLower(c.Name), lp) {
			out = append(out, c)
		}
	}
	if len(out) > 0 || !e.opts.Fuzzy {
		return out
	}
	for _, c := range cands {
		head := strings.ToLower(c.Name)
		if len(head) > len(lp)+2 {
			head = head[:len(lp)+2]
		}
		score, err := edlib.StringsSimilarity(lp, head, edlib.JaroWinkler)
		if err == nil && float64(score) >= e.opts.FuzzyThreshold {
			out = append(out, c)
		}
	}
	return out
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
