package driver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// JavaScript returns the structural driver for JavaScript sources.
func JavaScript() lang.Driver {
	return &treeSitter{grammar: grammar.JavaScript, visit: visitJavaScript}
}

func visitJavaScript(v *visitor, root *sitter.Node, blob *cix.Node) {
	j := &jsVisitor{visitor: v}
	j.statements(root, blob, nil)
}

type jsVisitor struct {
	*visitor
}

// statements visits declarations in n. class is the class whose members
// "this.x = ..." assignments declare, or nil outside methods.
func (j *jsVisitor) statements(n *sitter.Node, scope, class *cix.Node) {
	named(n, func(c *sitter.Node) {
		j.statement(c, scope, class)
	})
}

func (j *jsVisitor) statement(n *sitter.Node, scope, class *cix.Node) {
	switch n.Type() {
	case "class_declaration", "class":
		j.class(n, scope)
	case "function_declaration", "generator_function_declaration":
		j.function(n, scope, j.field(n, "name"), nil)
	case "lexical_declaration", "variable_declaration":
		named(n, func(c *sitter.Node) {
			if c.Type() == "variable_declarator" {
				j.declarator(c, scope)
			}
		})
	case "export_statement":
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			j.statement(decl, scope, class)
		}
	case "import_statement":
		j.imports(n, scope)
	case "expression_statement":
		named(n, func(c *sitter.Node) {
			if c.Type() == "assignment_expression" {
				j.assignment(c, scope, class)
			}
		})
	case "statement_block", "if_statement", "else_clause", "for_statement", "for_in_statement",
		"while_statement", "do_statement", "try_statement", "catch_clause", "finally_clause",
		"switch_statement", "switch_body", "switch_case":
		// Blocks do not open CIX scopes; their declarations belong to scope.
		j.statements(n, scope, class)
	}
}

func (j *jsVisitor) class(n *sitter.Node, scope *cix.Node) {
	name := j.field(n, "name")
	if name == "" {
		return
	}
	cls := j.scope(n, cix.IlkClass, name)
	named(n, func(c *sitter.Node) {
		if c.Type() == "class_heritage" {
			named(c, func(e *sitter.Node) {
				cls.ClassRefs = append(cls.ClassRefs, j.text(e))
			})
		}
	})
	scope.Add(cls)
	named(n.ChildByFieldName("body"), func(m *sitter.Node) {
		switch m.Type() {
		case "method_definition":
			mname := j.field(m, "name")
			fn := j.function(m, cls, mname, cls)
			if mname == "constructor" {
				fn.Attrs |= cix.AttrConstructor
			}
			for i := 0; i < int(m.ChildCount()); i++ {
				if c := m.Child(i); !c.IsNamed() && j.text(c) == "static" {
					fn.Attrs |= cix.AttrStatic
				}
			}
		case "field_definition", "public_field_definition":
			prop := j.field(m, "property")
			if prop == "" {
				break
			}
			v := j.variable(m, strings.TrimPrefix(prop, "#"), j.valueType(m.ChildByFieldName("value")))
			if strings.HasPrefix(prop, "#") {
				v.Attrs |= cix.AttrPrivate
			}
			declare(cls, v)
		}
	})
}

// function adds a function scope for n (a declaration, method, arrow
// function or function expression) under scope and visits its body.
func (j *jsVisitor) function(n *sitter.Node, scope *cix.Node, name string, class *cix.Node) *cix.Node {
	fn := j.scope(n, cix.IlkFunction, name)
	params := n.ChildByFieldName("parameters")
	if params == nil {
		// Single-parameter arrow functions.
		params = n.ChildByFieldName("parameter")
	}
	ptext := j.text(params)
	if params != nil && params.Type() == "identifier" {
		ptext = "(" + ptext + ")"
	}
	fn.Signature = name + ptext
	scope.Add(fn)

	if class != nil {
		this := &cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "this", Line: fn.Line, Citdl: class.Name, Attrs: cix.AttrHidden}
		fn.Add(this)
	}
	if params != nil && params.Type() == "identifier" {
		arg := j.variable(params, j.text(params), "")
		arg.Attrs = cix.AttrArgument
		fn.Add(arg)
	}
	named(params, func(p *sitter.Node) {
		pname, citdl := j.parameter(p)
		if pname == "" {
			return
		}
		arg := j.variable(p, pname, citdl)
		arg.Attrs = cix.AttrArgument
		fn.Add(arg)
	})

	body := n.ChildByFieldName("body")
	if body == nil {
		return fn
	}
	if body.Type() == "statement_block" {
		j.statements(body, fn, class)
		fn.Returns = j.returnType(body)
	} else {
		fn.Returns = j.valueType(body)
	}
	return fn
}

func (j *jsVisitor) parameter(n *sitter.Node) (name, citdl string) {
	switch n.Type() {
	case "identifier":
		return j.text(n), ""
	case "assignment_pattern":
		return j.field(n, "left"), j.valueType(n.ChildByFieldName("right"))
	case "rest_pattern":
		var id string
		named(n, func(c *sitter.Node) {
			if c.Type() == "identifier" {
				id = j.text(c)
			}
		})
		return id, "Array"
	}
	return "", ""
}

// returnType takes the type of the first return statement directly in body.
func (j *jsVisitor) returnType(body *sitter.Node) string {
	var out string
	named(body, func(c *sitter.Node) {
		if out != "" || c.Type() != "return_statement" || c.NamedChildCount() == 0 {
			return
		}
		out = j.valueType(c.NamedChild(0))
	})
	return out
}

func (j *jsVisitor) declarator(n *sitter.Node, scope *cix.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil || nameNode.Type() != "identifier" {
		return
	}
	name := j.text(nameNode)
	value := n.ChildByFieldName("value")
	if value != nil {
		switch value.Type() {
		case "arrow_function", "function", "function_expression", "generator_function":
			j.function(value, scope, name, nil)
			return
		case "class":
			cls := j.scope(value, cix.IlkClass, name)
			scope.Add(cls)
			return
		case "object":
			v := declare(scope, j.variable(nameNode, name, "Object"))
			j.object(value, v)
			return
		}
	}
	declare(scope, j.variable(nameNode, name, j.valueType(value)))
}

// object declares the keys of an object literal as members of v.
func (j *jsVisitor) object(obj *sitter.Node, v *cix.Node) {
	named(obj, func(c *sitter.Node) {
		switch c.Type() {
		case "pair":
			key := unquote(j.field(c, "key"))
			value := c.ChildByFieldName("value")
			if value != nil {
				switch value.Type() {
				case "arrow_function", "function", "function_expression":
					j.function(value, v, key, nil)
					return
				case "object":
					child := declare(v, j.variable(c, key, "Object"))
					j.object(value, child)
					return
				}
			}
			declare(v, j.variable(c, key, j.valueType(value)))
		case "method_definition":
			j.function(c, v, j.field(c, "name"), nil)
		case "shorthand_property_identifier":
			declare(v, j.variable(c, j.text(c), ""))
		}
	})
}

func (j *jsVisitor) assignment(n *sitter.Node, scope, class *cix.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil {
		return
	}
	switch left.Type() {
	case "member_expression":
		obj := j.field(left, "object")
		prop := j.field(left, "property")
		if obj == "this" && class != nil {
			declare(class, j.variable(left, prop, j.valueType(right)))
			return
		}
		// Foo.prototype.bar = function() {}
		if base, ok := strings.CutSuffix(obj, ".prototype"); ok {
			if target := scope.Child(base); target != nil && target.IsScope() {
				if right != nil && (right.Type() == "function" || right.Type() == "function_expression" || right.Type() == "arrow_function") {
					target.Ilk = cix.IlkClass
					j.function(right, target, prop, target)
					return
				}
				declare(target, j.variable(left, prop, j.valueType(right)))
			}
		}
	case "identifier":
		declare(scope, j.variable(left, j.text(left), j.valueType(right)))
	}
}

func (j *jsVisitor) imports(n *sitter.Node, scope *cix.Node) {
	mod := unquote(j.field(n, "source"))
	line := grammar.Line(n)
	named(n, func(c *sitter.Node) {
		if c.Type() != "import_clause" {
			return
		}
		named(c, func(ic *sitter.Node) {
			switch ic.Type() {
			case "identifier":
				scope.Add(&cix.Node{Kind: cix.KindImport, Name: j.text(ic), Module: mod, Symbol: "default", Line: line})
			case "namespace_import":
				named(ic, func(id *sitter.Node) {
					scope.Add(&cix.Node{Kind: cix.KindImport, Name: j.text(id), Module: mod, Line: line})
				})
			case "named_imports":
				named(ic, func(spec *sitter.Node) {
					if spec.Type() != "import_specifier" {
						return
					}
					sym := j.field(spec, "name")
					alias := j.field(spec, "alias")
					if alias == "" {
						alias = sym
					}
					scope.Add(&cix.Node{Kind: cix.KindImport, Name: alias, Module: mod, Symbol: sym, Line: line})
				})
			}
		})
	})
}

// valueType derives a citdl type hint from an expression.
func (j *jsVisitor) valueType(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "string", "template_string":
		return "String"
	case "number":
		return "Number"
	case "true", "false":
		return "Boolean"
	case "array":
		return "Array"
	case "object":
		return "Object"
	case "regex":
		return "RegExp"
	case "arrow_function", "function", "function_expression":
		return "Function"
	case "new_expression":
		return j.field(n, "constructor")
	case "call_expression":
		return j.field(n, "function") + "()"
	case "identifier", "member_expression", "this":
		return j.text(n)
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return j.valueType(n.NamedChild(0))
		}
	}
	return ""
}
