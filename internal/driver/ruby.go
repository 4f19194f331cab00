package driver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// Ruby returns the structural driver for Ruby sources.
func Ruby() lang.Driver {
	return &treeSitter{grammar: grammar.Ruby, visit: visitRuby}
}

func visitRuby(v *visitor, root *sitter.Node, blob *cix.Node) {
	r := &rbVisitor{visitor: v}
	r.body(root, blob)
}

type rbVisitor struct {
	*visitor
}

func (r *rbVisitor) body(n *sitter.Node, scope *cix.Node) {
	named(n, func(c *sitter.Node) {
		r.statement(c, scope)
	})
}

func (r *rbVisitor) statement(n *sitter.Node, scope *cix.Node) {
	switch n.Type() {
	case "class", "module":
		r.class(n, scope)
	case "method":
		r.method(n, scope, 0)
	case "singleton_method":
		r.method(n, scope, cix.AttrStatic)
	case "assignment":
		r.assignment(n, scope)
	case "call":
		r.call(n, scope)
	case "body_statement", "begin", "if", "unless", "while", "until", "then", "else":
		r.body(n, scope)
	}
}

func (r *rbVisitor) class(n *sitter.Node, scope *cix.Node) {
	name := r.field(n, "name")
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	ilk := cix.IlkClass
	if n.Type() == "module" {
		ilk = cix.IlkModule
	}
	cls := r.scope(n, ilk, name)
	if sc := n.ChildByFieldName("superclass"); sc != nil {
		named(sc, func(c *sitter.Node) {
			cls.ClassRefs = append(cls.ClassRefs, strings.ReplaceAll(r.text(c), "::", "."))
		})
	}
	scope.Add(cls)
	if b := n.ChildByFieldName("body"); b != nil {
		r.body(b, cls)
		return
	}
	// Older grammars place the body statements directly under the class.
	named(n, func(c *sitter.Node) {
		switch c.Type() {
		case "constant", "scope_resolution", "superclass":
			return
		}
		r.statement(c, cls)
	})
}

func (r *rbVisitor) method(n *sitter.Node, scope *cix.Node, attrs cix.Attr) {
	name := r.field(n, "name")
	fn := r.scope(n, cix.IlkFunction, name)
	fn.Attrs = attrs
	if name == "initialize" {
		fn.Attrs |= cix.AttrConstructor
	}
	params := n.ChildByFieldName("parameters")
	ptext := r.text(params)
	if ptext != "" && !strings.HasPrefix(ptext, "(") {
		ptext = "(" + ptext + ")"
	}
	fn.Signature = name + ptext
	scope.Add(fn)
	if scope.Ilk == cix.IlkClass {
		fn.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "self", Line: fn.Line, Citdl: scope.Name, Attrs: cix.AttrHidden})
	}
	named(params, func(p *sitter.Node) {
		var pname string
		switch p.Type() {
		case "identifier":
			pname = r.text(p)
		case "optional_parameter", "keyword_parameter", "splat_parameter",
			"hash_splat_parameter", "block_parameter":
			pname = r.field(p, "name")
		}
		if pname == "" {
			return
		}
		arg := r.variable(p, pname, "")
		arg.Attrs = cix.AttrArgument
		fn.Add(arg)
	})
	if b := n.ChildByFieldName("body"); b != nil {
		r.body(b, fn)
		return
	}
	named(n, func(c *sitter.Node) {
		switch c.Type() {
		case "identifier", "method_parameters", "self", "constant":
			return
		}
		r.statement(c, fn)
	})
}

func (r *rbVisitor) assignment(n *sitter.Node, scope *cix.Node) {
	left := n.ChildByFieldName("left")
	if left == nil {
		return
	}
	citdl := r.valueType(n.ChildByFieldName("right"))
	switch left.Type() {
	case "identifier":
		declare(scope, r.variable(left, r.text(left), citdl))
	case "constant":
		v := r.variable(left, r.text(left), citdl)
		v.Attrs = cix.AttrStatic
		declare(scope, v)
	case "instance_variable":
		v := r.variable(left, r.text(left), citdl)
		v.Attrs = cix.AttrPrivate
		declare(scope, v)
	}
}

// call records require statements and attribute accessors.
func (r *rbVisitor) call(n *sitter.Node, scope *cix.Node) {
	if n.ChildByFieldName("receiver") != nil {
		return
	}
	method := r.field(n, "method")
	args := n.ChildByFieldName("arguments")
	switch method {
	case "require", "require_relative", "load":
		named(args, func(a *sitter.Node) {
			if a.Type() == "string" {
				mod := unquote(r.text(a))
				scope.Add(&cix.Node{Kind: cix.KindImport, Name: mod, Module: mod, Symbol: "*", Line: grammar.Line(n)})
			}
		})
	case "include", "extend":
		if scope.Kind == cix.KindScope {
			named(args, func(a *sitter.Node) {
				scope.ClassRefs = append(scope.ClassRefs, strings.ReplaceAll(r.text(a), "::", "."))
			})
		}
	case "attr_accessor", "attr_reader", "attr_writer":
		named(args, func(a *sitter.Node) {
			if a.Type() == "simple_symbol" {
				declare(scope, r.variable(a, strings.TrimPrefix(r.text(a), ":"), ""))
			}
		})
	}
}

func (r *rbVisitor) valueType(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "string", "heredoc_beginning":
		return "String"
	case "integer":
		return "Integer"
	case "float":
		return "Float"
	case "array":
		return "Array"
	case "hash":
		return "Hash"
	case "simple_symbol":
		return "Symbol"
	case "true", "false":
		return "Boolean"
	case "call":
		recv := strings.ReplaceAll(r.field(n, "receiver"), "::", ".")
		method := r.field(n, "method")
		if method == "new" && recv != "" {
			return recv
		}
		if recv != "" {
			return recv + "." + method + "()"
		}
		return method + "()"
	case "identifier", "constant":
		return r.text(n)
	}
	return ""
}
