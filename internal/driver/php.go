package driver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// PHP returns the structural driver for PHP sources. Variable names are
// recorded without their "$" sigil.
func PHP() lang.Driver {
	return &treeSitter{grammar: grammar.PHP, visit: visitPHP}
}

func visitPHP(v *visitor, root *sitter.Node, blob *cix.Node) {
	p := &phpVisitor{visitor: v}
	p.statements(root, blob, nil)
}

type phpVisitor struct {
	*visitor
}

func (p *phpVisitor) statements(n *sitter.Node, scope, class *cix.Node) {
	named(n, func(c *sitter.Node) {
		p.statement(c, scope, class)
	})
}

func (p *phpVisitor) statement(n *sitter.Node, scope, class *cix.Node) {
	switch n.Type() {
	case "class_declaration", "interface_declaration", "trait_declaration":
		p.class(n, scope)
	case "function_definition":
		p.function(n, scope, nil)
	case "expression_statement":
		named(n, func(c *sitter.Node) {
			if c.Type() == "assignment_expression" {
				p.assignment(c, scope, class)
			}
		})
	case "namespace_use_declaration":
		named(n, func(c *sitter.Node) {
			if c.Type() != "namespace_use_clause" {
				return
			}
			var mod, alias string
			named(c, func(part *sitter.Node) {
				switch part.Type() {
				case "qualified_name", "name":
					if mod == "" {
						mod = p.text(part)
					} else {
						alias = p.text(part)
					}
				case "namespace_aliasing_clause":
					named(part, func(a *sitter.Node) { alias = p.text(a) })
				}
			})
			if mod == "" {
				return
			}
			if alias == "" {
				alias = mod[strings.LastIndex(mod, `\`)+1:]
			}
			scope.Add(&cix.Node{Kind: cix.KindImport, Name: alias, Module: mod, Line: grammar.Line(n)})
		})
	case "include_expression", "include_once_expression", "require_expression", "require_once_expression":
		p.include(n, scope)
	case "namespace_definition":
		if body := n.ChildByFieldName("body"); body != nil {
			p.statements(body, scope, class)
		}
	case "compound_statement", "if_statement", "else_clause", "else_if_clause", "for_statement",
		"foreach_statement", "while_statement", "try_statement", "catch_clause", "finally_clause":
		p.statements(n, scope, class)
	}
}

func (p *phpVisitor) include(n *sitter.Node, scope *cix.Node) {
	named(n, func(c *sitter.Node) {
		if c.Type() == "string" || c.Type() == "encapsed_string" {
			mod := unquote(p.text(c))
			scope.Add(&cix.Node{Kind: cix.KindImport, Name: mod, Module: mod, Symbol: "*", Line: grammar.Line(n)})
		}
	})
}

func (p *phpVisitor) class(n *sitter.Node, scope *cix.Node) {
	name := p.field(n, "name")
	if name == "" {
		return
	}
	cls := p.scope(n, cix.IlkClass, name)
	named(n, func(c *sitter.Node) {
		switch c.Type() {
		case "base_clause", "class_interface_clause":
			named(c, func(ref *sitter.Node) {
				cls.ClassRefs = append(cls.ClassRefs, p.text(ref))
			})
		}
	})
	scope.Add(cls)
	named(n.ChildByFieldName("body"), func(m *sitter.Node) {
		switch m.Type() {
		case "method_declaration":
			fn := p.function(m, cls, cls)
			fn.Attrs |= p.modifiers(m)
			if fn.Name == "__construct" {
				fn.Attrs |= cix.AttrConstructor
			}
		case "property_declaration":
			attrs := p.modifiers(m)
			var citdl string
			if t := m.ChildByFieldName("type"); t != nil {
				citdl = strings.TrimPrefix(p.text(t), "?")
			}
			named(m, func(el *sitter.Node) {
				if el.Type() != "property_element" {
					return
				}
				var vname string
				named(el, func(c *sitter.Node) {
					if vname == "" && c.Type() == "variable_name" {
						vname = p.varName(c)
					}
				})
				if vname == "" {
					return
				}
				v := p.variable(el, vname, citdl)
				v.Attrs = attrs
				declare(cls, v)
			})
		case "const_declaration":
			named(m, func(el *sitter.Node) {
				if el.Type() != "const_element" {
					return
				}
				named(el, func(c *sitter.Node) {
					if c.Type() == "name" {
						v := p.variable(el, p.text(c), "")
						v.Attrs = cix.AttrStatic
						declare(cls, v)
					}
				})
			})
		}
	})
}

// modifiers maps visibility and static modifiers to attributes.
func (p *phpVisitor) modifiers(n *sitter.Node) cix.Attr {
	var a cix.Attr
	named(n, func(c *sitter.Node) {
		switch c.Type() {
		case "visibility_modifier":
			switch p.text(c) {
			case "private":
				a |= cix.AttrPrivate
			case "protected":
				a |= cix.AttrProtected
			}
		case "static_modifier":
			a |= cix.AttrStatic
		}
	})
	return a
}

func (p *phpVisitor) function(n *sitter.Node, scope, class *cix.Node) *cix.Node {
	name := p.field(n, "name")
	fn := p.scope(n, cix.IlkFunction, name)
	params := n.ChildByFieldName("parameters")
	fn.Signature = name + p.text(params)
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		fn.Returns = strings.TrimPrefix(strings.TrimPrefix(p.text(rt), ":"), "?")
		fn.Returns = strings.TrimSpace(fn.Returns)
	}
	scope.Add(fn)
	if class != nil {
		fn.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "this", Line: fn.Line, Citdl: class.Name, Attrs: cix.AttrHidden})
		fn.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "self", Line: fn.Line, Citdl: class.Name, Attrs: cix.AttrHidden})
	}
	named(params, func(param *sitter.Node) {
		switch param.Type() {
		case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
		default:
			return
		}
		pname := p.varName(param.ChildByFieldName("name"))
		if pname == "" {
			return
		}
		var citdl string
		if t := param.ChildByFieldName("type"); t != nil {
			citdl = strings.TrimPrefix(p.text(t), "?")
		}
		arg := p.variable(param, pname, citdl)
		arg.Attrs = cix.AttrArgument
		fn.Add(arg)
		if param.Type() == "property_promotion_parameter" && class != nil {
			member := p.variable(param, pname, citdl)
			member.Attrs = p.modifiers(param)
			declare(class, member)
		}
	})
	if body := n.ChildByFieldName("body"); body != nil {
		p.statements(body, fn, class)
	}
	return fn
}

func (p *phpVisitor) assignment(n *sitter.Node, scope, class *cix.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil {
		return
	}
	switch left.Type() {
	case "variable_name":
		name := p.varName(left)
		if name == "this" {
			return
		}
		declare(scope, p.variable(left, name, p.valueType(right)))
	case "member_access_expression":
		if class == nil || p.field(left, "object") != "$this" {
			return
		}
		prop := p.field(left, "name")
		if prop != "" {
			declare(class, p.variable(left, prop, p.valueType(right)))
		}
	}
}

func (p *phpVisitor) varName(n *sitter.Node) string {
	return strings.TrimPrefix(p.text(n), "$")
}

func (p *phpVisitor) valueType(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "string", "encapsed_string", "heredoc", "nowdoc":
		return "string"
	case "integer":
		return "int"
	case "float":
		return "float"
	case "boolean":
		return "bool"
	case "array_creation_expression":
		return "array"
	case "object_creation_expression":
		var cls string
		named(n, func(c *sitter.Node) {
			if cls == "" && (c.Type() == "name" || c.Type() == "qualified_name") {
				cls = p.text(c)
			}
		})
		return cls
	case "function_call_expression":
		return p.field(n, "function") + "()"
	case "variable_name":
		return p.varName(n)
	case "member_call_expression":
		return strings.ReplaceAll(strings.TrimPrefix(p.field(n, "object"), "$"), "->", ".") +
			"." + p.field(n, "name") + "()"
	}
	return ""
}
