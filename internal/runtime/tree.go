package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"

	"github.com/jward/codeintel/internal/cix"
)

// Tree exposes one CIX blob to a script. Nodes are addressed by their
// preorder index; index 0 is the blob itself.
type Tree struct {
	origin  string
	nodes   []*cix.Node
	parents []int
}

// NewTree indexes blob for script access. Nodes added through add_node are
// marked fabricated and attributed to origin.
func NewTree(blob *cix.Node, origin string) *Tree {
	t := &Tree{origin: origin}
	index := map[*cix.Node]int{}
	blob.Walk(func(n, parent *cix.Node) bool {
		p := -1
		if parent != nil {
			p = index[parent]
		}
		index[n] = len(t.nodes)
		t.nodes = append(t.nodes, n)
		t.parents = append(t.parents, p)
		return true
	})
	return t
}

// Globals returns the host functions a hook script sees.
func (t *Tree) Globals() map[string]any {
	return map[string]any{
		"blob":     t.nodeObject(0),
		"nodes":    t.makeNodesFn(),
		"children": t.makeChildrenFn(),
		"find":     t.makeFindFn(),
		"add_node": t.makeAddNodeFn(),
	}
}

// Added returns the number of nodes the script fabricated.
func (t *Tree) Added() int {
	n := 0
	for _, node := range t.nodes {
		if node.Attrs.Has(cix.AttrFabricated) && node.Origin == t.origin {
			n++
		}
	}
	return n
}

func (t *Tree) makeNodesFn() *object.Builtin {
	return object.NewBuiltin("nodes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("nodes", 0, len(args))
		}
		ids := make([]int, len(t.nodes))
		for i := range t.nodes {
			ids[i] = i
		}
		return t.list(ids)
	})
}

func (t *Tree) makeChildrenFn() *object.Builtin {
	return object.NewBuiltin("children", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("children", 1, len(args))
		}
		id, err := t.id(args[0])
		if err != nil {
			return object.Errorf("children: %v", err)
		}
		var ids []int
		for i, p := range t.parents {
			if p == id {
				ids = append(ids, i)
			}
		}
		return t.list(ids)
	})
}

func (t *Tree) makeFindFn() *object.Builtin {
	return object.NewBuiltin("find", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("find", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("find: %v", err)
		}
		var ids []int
		for i, n := range t.nodes {
			if n.Name == name {
				ids = append(ids, i)
			}
		}
		return t.list(ids)
	})
}

// makeAddNodeFn creates add_node(parent_id, {kind, ilk, name, ...}), which
// appends a fabricated node and returns its id. Risor scripts cannot build
// cix.Node values, so the fields arrive as a map of primitives.
func (t *Tree) makeAddNodeFn() *object.Builtin {
	return object.NewBuiltin("add_node", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("add_node", 2, len(args))
		}
		parentID, err := t.id(args[0])
		if err != nil {
			return object.Errorf("add_node: %v", err)
		}
		parent := t.nodes[parentID]
		if !parent.IsScope() {
			return object.Errorf("add_node: node %d is not a scope", parentID)
		}
		m, err := extractMap(args[1])
		if err != nil {
			return object.Errorf("add_node: %v", err)
		}
		node, err := nodeFromMap(m)
		if err != nil {
			return object.Errorf("add_node: %v", err)
		}
		node.Attrs |= cix.AttrFabricated
		node.Origin = t.origin

		parent.Add(node)
		t.nodes = append(t.nodes, node)
		t.parents = append(t.parents, parentID)
		return object.NewInt(int64(len(t.nodes) - 1))
	})
}

func nodeFromMap(m map[string]object.Object) (*cix.Node, error) {
	kind := cix.Kind(getStringDefault(m, "kind", string(cix.KindVariable)))
	var ilk cix.Ilk
	switch kind {
	case cix.KindVariable:
		ilk = cix.IlkVariable
	case cix.KindScope:
		ilk = cix.IlkFunction
	case cix.KindImport:
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
	name := getString(m, "name")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	n := &cix.Node{
		Kind:      kind,
		Ilk:       cix.Ilk(getStringDefault(m, "ilk", string(ilk))),
		Name:      name,
		Line:      getInt(m, "line"),
		LineEnd:   getInt(m, "line_end"),
		Signature: getString(m, "signature"),
		Citdl:     getString(m, "citdl"),
		Returns:   getString(m, "returns"),
		Module:    getString(m, "module"),
		Symbol:    getString(m, "symbol"),
		Doc:       getString(m, "doc"),
		Attrs:     cix.ParseAttr(getString(m, "attributes")),
	}
	return n, nil
}

func (t *Tree) id(obj object.Object) (int, error) {
	v, err := toInt64(obj)
	if err != nil {
		return 0, err
	}
	if v < 0 || int(v) >= len(t.nodes) {
		return 0, fmt.Errorf("no node with id %d", v)
	}
	return int(v), nil
}

func (t *Tree) list(ids []int) object.Object {
	items := make([]object.Object, 0, len(ids))
	for _, id := range ids {
		items = append(items, t.nodeObject(id))
	}
	return object.NewList(items)
}

func (t *Tree) nodeObject(id int) object.Object {
	n := t.nodes[id]
	m := map[string]object.Object{
		"id":         object.NewInt(int64(id)),
		"kind":       object.NewString(string(n.Kind)),
		"ilk":        object.NewString(string(n.Ilk)),
		"name":       object.NewString(n.Name),
		"line":       object.NewInt(int64(n.Line)),
		"lang":       object.NewString(n.Lang),
		"signature":  object.NewString(n.Signature),
		"citdl":      object.NewString(n.Citdl),
		"returns":    object.NewString(n.Returns),
		"module":     object.NewString(n.Module),
		"symbol":     object.NewString(n.Symbol),
		"attributes": object.NewString(n.Attrs.String()),
		"fabricated": object.NewBool(n.Attrs.Has(cix.AttrFabricated)),
	}
	if p := t.parents[id]; p >= 0 {
		m["parent_id"] = object.NewInt(int64(p))
	}
	return object.NewMap(m)
}

// --- Map extraction helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	v := getString(m, key)
	if v == "" {
		return def
	}
	return v
}

func getInt(m map[string]object.Object, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if i, ok := v.(*object.Int); ok {
		return int(i.Value())
	}
	if f, ok := v.(*object.Float); ok {
		return int(f.Value())
	}
	return 0
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
