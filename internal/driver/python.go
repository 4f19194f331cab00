package driver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// Python returns the structural driver for Python sources.
func Python() lang.Driver {
	return &treeSitter{grammar: grammar.Python, visit: visitPython}
}

func visitPython(v *visitor, root *sitter.Node, blob *cix.Node) {
	p := &pyVisitor{visitor: v}
	p.block(root, blob)
}

type pyVisitor struct {
	*visitor
}

// block visits the statements of a module or class body.
func (p *pyVisitor) block(n *sitter.Node, scope *cix.Node) {
	named(n, func(c *sitter.Node) {
		p.statement(c, scope)
	})
}

func (p *pyVisitor) statement(n *sitter.Node, scope *cix.Node) {
	switch n.Type() {
	case "class_definition":
		p.class(n, scope, 0)
	case "function_definition":
		p.function(n, scope, 0)
	case "decorated_definition":
		var attrs cix.Attr
		named(n, func(c *sitter.Node) {
			if c.Type() == "decorator" {
				switch strings.TrimSpace(strings.TrimPrefix(p.text(c), "@")) {
				case "staticmethod", "classmethod":
					attrs |= cix.AttrStatic
				}
			}
		})
		def := n.ChildByFieldName("definition")
		if def == nil {
			return
		}
		switch def.Type() {
		case "class_definition":
			p.class(def, scope, attrs)
		case "function_definition":
			p.function(def, scope, attrs)
		}
	case "expression_statement":
		named(n, func(c *sitter.Node) {
			if c.Type() == "assignment" {
				p.assignment(c, scope)
			}
		})
	case "import_statement":
		named(n, func(c *sitter.Node) {
			mod, alias := p.importName(c)
			if mod == "" {
				return
			}
			if alias == "" {
				alias = strings.SplitN(mod, ".", 2)[0]
			}
			scope.Add(&cix.Node{Kind: cix.KindImport, Name: alias, Module: mod, Line: grammar.Line(n)})
		})
	case "import_from_statement":
		modNode := n.ChildByFieldName("module_name")
		mod := p.text(modNode)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if modNode != nil && c.StartByte() == modNode.StartByte() {
				continue
			}
			if c.Type() == "wildcard_import" {
				scope.Add(&cix.Node{Kind: cix.KindImport, Name: "*", Module: mod, Symbol: "*", Line: grammar.Line(n)})
				continue
			}
			sym, alias := p.importName(c)
			if sym == "" {
				continue
			}
			if alias == "" {
				alias = sym
			}
			scope.Add(&cix.Node{Kind: cix.KindImport, Name: alias, Module: mod, Symbol: sym, Line: grammar.Line(n)})
		}
	case "if_statement", "for_statement", "while_statement", "try_statement", "with_statement",
		"block", "else_clause", "elif_clause", "except_clause", "finally_clause":
		// Declarations in compound statements belong to the enclosing scope.
		p.block(n, scope)
	}
}

func (p *pyVisitor) importName(n *sitter.Node) (name, alias string) {
	switch n.Type() {
	case "dotted_name", "identifier":
		return p.text(n), ""
	case "aliased_import":
		return p.field(n, "name"), p.field(n, "alias")
	}
	return "", ""
}

func (p *pyVisitor) class(n *sitter.Node, scope *cix.Node, attrs cix.Attr) {
	name := p.field(n, "name")
	cls := p.scope(n, cix.IlkClass, name)
	cls.Attrs = attrs | namingAttrs(name)
	named(n.ChildByFieldName("superclasses"), func(c *sitter.Node) {
		switch c.Type() {
		case "identifier", "attribute":
			cls.ClassRefs = append(cls.ClassRefs, p.text(c))
		}
	})
	body := n.ChildByFieldName("body")
	cls.Doc = p.docstring(body)
	scope.Add(cls)
	p.block(body, cls)
}

func (p *pyVisitor) function(n *sitter.Node, scope *cix.Node, attrs cix.Attr) {
	name := p.field(n, "name")
	fn := p.scope(n, cix.IlkFunction, name)
	fn.Attrs = attrs | namingAttrs(name)
	params := n.ChildByFieldName("parameters")
	fn.Signature = name + p.text(params)
	fn.Returns = p.field(n, "return_type")
	var class *cix.Node
	if scope.Ilk == cix.IlkClass {
		class = scope
		if name == "__init__" {
			fn.Attrs |= cix.AttrConstructor
		}
	}
	body := n.ChildByFieldName("body")
	fn.Doc = p.docstring(body)
	scope.Add(fn)

	first := true
	named(params, func(c *sitter.Node) {
		pname, citdl := p.parameter(c)
		if pname == "" {
			return
		}
		arg := p.variable(c, pname, citdl)
		arg.Attrs = cix.AttrArgument
		if first && class != nil && !fn.Attrs.Has(cix.AttrStatic) && arg.Citdl == "" {
			arg.Citdl = class.Name
		}
		first = false
		fn.Add(arg)
	})
	p.method(body, fn, class)
}

// method visits a function body. Inside a method, assignments to
// attributes of the first parameter declare class members.
func (p *pyVisitor) method(body *sitter.Node, fn, class *cix.Node) {
	var self string
	if class != nil && len(fn.Children) > 0 && fn.Children[0].Attrs.Has(cix.AttrArgument) {
		self = fn.Children[0].Name
	}
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		named(n, func(c *sitter.Node) {
			switch c.Type() {
			case "function_definition", "class_definition", "decorated_definition":
				p.statement(c, fn)
				return
			case "assignment":
				left := c.ChildByFieldName("left")
				if left != nil && left.Type() == "attribute" && self != "" &&
					p.field(left, "object") == self {
					attr := p.field(left, "attribute")
					member := p.variable(left, attr, p.citdl(c))
					member.Attrs = namingAttrs(attr)
					declare(class, member)
					return
				}
				p.assignment(c, fn)
				return
			}
			walk(c)
		})
	}
	walk(body)
}

func (p *pyVisitor) parameter(n *sitter.Node) (name, citdl string) {
	switch n.Type() {
	case "identifier":
		return p.text(n), ""
	case "typed_parameter":
		var id string
		named(n, func(c *sitter.Node) {
			if id == "" && c.Type() == "identifier" {
				id = p.text(c)
			}
		})
		return id, p.field(n, "type")
	case "default_parameter":
		return p.field(n, "name"), p.literalType(n.ChildByFieldName("value"))
	case "typed_default_parameter":
		return p.field(n, "name"), p.field(n, "type")
	case "list_splat_pattern", "dictionary_splat_pattern":
		var id string
		named(n, func(c *sitter.Node) {
			if c.Type() == "identifier" {
				id = p.text(c)
			}
		})
		if n.Type() == "list_splat_pattern" {
			return id, "tuple"
		}
		return id, "dict"
	}
	return "", ""
}

func (p *pyVisitor) assignment(n *sitter.Node, scope *cix.Node) {
	left := n.ChildByFieldName("left")
	if left == nil {
		return
	}
	citdl := p.citdl(n)
	switch left.Type() {
	case "identifier":
		name := p.text(left)
		v := p.variable(left, name, citdl)
		v.Attrs = namingAttrs(name)
		declare(scope, v)
	case "pattern_list", "tuple_pattern":
		named(left, func(c *sitter.Node) {
			if c.Type() == "identifier" {
				declare(scope, p.variable(c, p.text(c), ""))
			}
		})
	}
}

// citdl derives a type hint from an annotation or the assigned value.
func (p *pyVisitor) citdl(assign *sitter.Node) string {
	if t := p.field(assign, "type"); t != "" {
		return t
	}
	return p.literalType(assign.ChildByFieldName("right"))
}

func (p *pyVisitor) literalType(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "string", "concatenated_string":
		return "str"
	case "integer":
		return "int"
	case "float":
		return "float"
	case "true", "false":
		return "bool"
	case "list", "list_comprehension":
		return "list"
	case "dictionary", "dictionary_comprehension":
		return "dict"
	case "set", "set_comprehension":
		return "set"
	case "tuple":
		return "tuple"
	case "call":
		return p.field(n, "function") + "()"
	case "identifier", "attribute":
		return p.text(n)
	}
	return ""
}

func (p *pyVisitor) docstring(body *sitter.Node) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	s := first.NamedChild(0)
	if s.Type() != "string" {
		return ""
	}
	return firstLine(unquote(p.text(s)))
}
