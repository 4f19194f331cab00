package driver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
)

// Markup returns the structural driver for HTML markup. Elements carrying
// an id attribute become variables of ilk element, typed by their tag.
func Markup() lang.Driver {
	return &treeSitter{grammar: grammar.HTML, visit: visitMarkup}
}

func visitMarkup(v *visitor, root *sitter.Node, blob *cix.Node) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "start_tag", "self_closing_tag":
			markupElement(v, n, blob)
			return
		case "script_element", "style_element":
			// Bodies belong to their own families; only the tag is markup.
			named(n, func(c *sitter.Node) {
				if c.Type() == "start_tag" {
					markupElement(v, c, blob)
				}
			})
			return
		}
		named(n, walk)
	}
	walk(root)
}

func markupElement(v *visitor, tag *sitter.Node, blob *cix.Node) {
	var name string
	named(tag, func(c *sitter.Node) {
		switch c.Type() {
		case "tag_name":
			name = strings.ToLower(v.text(c))
		case "attribute":
			var key, value string
			named(c, func(a *sitter.Node) {
				switch a.Type() {
				case "attribute_name":
					key = strings.ToLower(v.text(a))
				case "attribute_value":
					value = v.text(a)
				case "quoted_attribute_value":
					value = unquote(v.text(a))
				}
			})
			if key == "id" && value != "" {
				el := v.variable(c, value, name)
				el.Ilk = cix.IlkElement
				declare(blob, el)
			}
		}
	})
}
