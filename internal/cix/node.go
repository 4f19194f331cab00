// Package cix defines the structural index tree ("CIX") produced by the
// structural drivers and consumed by the evaluator, together with its XML
// interchange format.
package cix

import (
	"slices"
	"strings"
)

// Kind is the structural category of a node.
type Kind string

const (
	KindBlob     Kind = "blob"
	KindScope    Kind = "scope"
	KindVariable Kind = "variable"
	KindImport   Kind = "import"
)

// Ilk refines a Kind (a scope may be a class or a function, and so on).
type Ilk string

const (
	IlkBlob     Ilk = "blob"
	IlkClass    Ilk = "class"
	IlkFunction Ilk = "function"
	IlkModule   Ilk = "module"
	IlkVariable Ilk = "variable"
	IlkElement  Ilk = "element"
	IlkError    Ilk = "error"
)

// Attr is a set of node flags.
type Attr uint16

const (
	AttrFabricated Attr = 1 << iota
	AttrHidden
	AttrPrivate
	AttrProtected
	AttrArgument
	AttrConstructor
	AttrStatic
)

var attrNames = []struct {
	attr Attr
	name string
}{
	{AttrFabricated, "fabricated"},
	{AttrHidden, "hidden"},
	{AttrPrivate, "private"},
	{AttrProtected, "protected"},
	{AttrArgument, "argument"},
	{AttrConstructor, "__ctor__"},
	{AttrStatic, "static"},
}

// Has reports whether every flag in f is set.
func (a Attr) Has(f Attr) bool { return a&f == f }

// String renders the set as space-separated CIX attribute names.
func (a Attr) String() string {
	var parts []string
	for _, an := range attrNames {
		if a.Has(an.attr) {
			parts = append(parts, an.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseAttr is the inverse of Attr.String. Unknown names are ignored.
func ParseAttr(s string) Attr {
	var a Attr
	for _, f := range strings.Fields(s) {
		for _, an := range attrNames {
			if an.name == f {
				a |= an.attr
			}
		}
	}
	return a
}

// Node is one element of a structural index tree. A node owns its children;
// a node must never be reachable from two parents.
type Node struct {
	Kind      Kind
	Ilk       Ilk
	Name      string
	Line      int // 1-based, 0 when unknown
	LineEnd   int
	Lang      string // set on blobs
	Family    string // family code of a composite sub-blob
	Signature string
	Citdl     string // type hint of a variable
	Returns   string // return type hint of a function
	ClassRefs []string
	Module    string // imports: the imported module
	Symbol    string // imports: the imported symbol, "*" for everything
	Origin    string // handler that fabricated the node
	Doc       string
	Attrs     Attr
	Children  []*Node
}

// NewBlob returns an empty root node for one file in one language.
func NewBlob(name, lang string) *Node {
	return &Node{Kind: KindBlob, Ilk: IlkBlob, Name: name, Lang: lang}
}

// Add appends child and returns it.
func (n *Node) Add(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Blobs returns the per-family sub-blobs of a composite root, or the root
// itself when it is a single-language blob.
func (n *Node) Blobs() []*Node {
	var subs []*Node
	for _, c := range n.Children {
		if c.Kind == KindBlob {
			subs = append(subs, c)
		}
	}
	if len(subs) == 0 {
		return []*Node{n}
	}
	return subs
}

// BlobForFamily returns the sub-blob tagged with the family code, falling
// back to the root when the tree is not composite.
func (n *Node) BlobForFamily(code string) *Node {
	for _, c := range n.Children {
		if c.Kind == KindBlob && c.Family == code {
			return c
		}
	}
	if n.Family == code || !n.IsComposite() {
		return n
	}
	return nil
}

// IsComposite reports whether the node joins sub-blobs.
func (n *Node) IsComposite() bool {
	for _, c := range n.Children {
		if c.Kind == KindBlob {
			return true
		}
	}
	return false
}

// IsScope reports whether the node may enclose declarations.
func (n *Node) IsScope() bool {
	return n.Kind == KindBlob || n.Kind == KindScope
}

// Contains reports whether line lies within the node's line range.
func (n *Node) Contains(line int) bool {
	if n.Kind == KindBlob {
		return true
	}
	end := n.LineEnd
	if end < n.Line {
		end = n.Line
	}
	return n.Line <= line && line <= end
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the children of the visited node.
func (n *Node) Walk(fn func(node, parent *Node) bool) {
	walk(n, nil, fn)
}

func walk(n, parent *Node, fn func(node, parent *Node) bool) {
	if !fn(n, parent) {
		return
	}
	for _, c := range n.Children {
		walk(c, n, fn)
	}
}

// Count returns the number of nodes in the tree rooted at n.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node, *Node) bool {
		count++
		return true
	})
	return count
}

// Clone deep-copies the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.ClassRefs = slices.Clone(n.ClassRefs)
	c.Children = nil
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return &c
}

// ScopeChain returns the scopes enclosing line, innermost first and ending
// with n itself.
func (n *Node) ScopeChain(line int) []*Node {
	chain := []*Node{n}
	cur := n
	for {
		var next *Node
		for _, c := range cur.Children {
			if c.Kind == KindScope && c.Ilk != IlkError && c.Line > 0 && c.Contains(line) {
				next = c
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	slices.Reverse(chain)
	return chain
}

// Equal reports whether two trees are structurally identical.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Ilk != b.Ilk || a.Name != b.Name ||
		a.Line != b.Line || a.LineEnd != b.LineEnd || a.Lang != b.Lang ||
		a.Family != b.Family || a.Signature != b.Signature || a.Citdl != b.Citdl ||
		a.Returns != b.Returns || a.Module != b.Module || a.Symbol != b.Symbol ||
		a.Origin != b.Origin || a.Doc != b.Doc || a.Attrs != b.Attrs {
		return false
	}
	if !slices.Equal(a.ClassRefs, b.ClassRefs) {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
