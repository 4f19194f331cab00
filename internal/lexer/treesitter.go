package lexer

import (
	"context"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codeintel/internal/grammar"
)

// TreeSitter tokenizes a single-language source from the leaves of its
// tree-sitter syntax tree. Text between leaves becomes whitespace or
// default tokens so the sequence covers the input without gaps.
type TreeSitter struct {
	Grammar string
	Family  Family
}

func (l *TreeSitter) Tokenize(src []byte) iter.Seq[Token] {
	return singleUse(func(yield func(Token) bool) {
		if len(src) == 0 {
			return
		}
		tree, err := grammar.Parse(context.Background(), l.Grammar, src)
		if err != nil {
			yield(Token{Style: MakeStyle(l.Family, ClassDefault), Start: 0, End: len(src)})
			return
		}
		defer tree.Close()

		w := &leafWalker{src: src, family: l.Family, yield: yield}
		if !w.walk(tree.RootNode()) {
			return
		}
		w.gap(len(src))
	})
}

type leafWalker struct {
	src    []byte
	family Family
	pos    int
	yield  func(Token) bool
}

// gap emits the untokenized text in [pos, upto).
func (w *leafWalker) gap(upto int) bool {
	if upto > len(w.src) {
		upto = len(w.src)
	}
	if upto <= w.pos {
		return true
	}
	cls := ClassWhitespace
	if strings.TrimSpace(string(w.src[w.pos:upto])) != "" {
		cls = ClassDefault
	}
	ok := w.yield(Token{Style: MakeStyle(w.family, cls), Start: w.pos, End: upto})
	w.pos = upto
	return ok
}

func (w *leafWalker) emit(start, end int, cls Class) bool {
	if !w.gap(start) {
		return false
	}
	if end > len(w.src) {
		end = len(w.src)
	}
	if end <= w.pos {
		return true
	}
	ok := w.yield(Token{Style: MakeStyle(w.family, cls), Start: w.pos, End: end})
	w.pos = end
	return ok
}

func (w *leafWalker) walk(n *sitter.Node) bool {
	start, end := int(n.StartByte()), int(n.EndByte())
	if cls, whole := classifyNode(n, w.src); whole || n.ChildCount() == 0 {
		if end <= start {
			return true
		}
		return w.emit(start, end, cls)
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		if !w.walk(n.Child(i)) {
			return false
		}
	}
	return true
}

// classifyNode maps a tree-sitter node to a lexical class. whole reports
// that the node is emitted as one token without descending into it.
func classifyNode(n *sitter.Node, src []byte) (cls Class, whole bool) {
	typ := n.Type()
	if !n.IsNamed() {
		text := n.Content(src)
		r, _ := utf8.DecodeRuneInString(text)
		if r == '_' || unicode.IsLetter(r) {
			return ClassKeyword, false
		}
		return ClassOperator, false
	}
	switch {
	case strings.Contains(typ, "comment"):
		return ClassComment, true
	case isStringKind(typ):
		return ClassString, true
	case strings.Contains(typ, "number") || strings.Contains(typ, "integer") || strings.Contains(typ, "float"):
		return ClassNumber, true
	case strings.Contains(typ, "identifier") || typ == "name" || typ == "constant" ||
		typ == "tag_name" || typ == "class_name" || typ == "property_name":
		return ClassIdentifier, false
	}
	return ClassDefault, false
}

func isStringKind(typ string) bool {
	switch typ {
	case "string", "template_string", "string_literal", "encapsed_string",
		"heredoc", "nowdoc", "string_value", "regex", "character":
		return true
	}
	return strings.HasSuffix(typ, "_string")
}
