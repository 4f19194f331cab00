// Package grammar owns the tree-sitter grammars used by the lexers and
// structural drivers.
package grammar

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
)

// Grammar names accepted by For and Parse.
const (
	CSS        = "css"
	HTML       = "html"
	JavaScript = "javascript"
	PHP        = "php"
	Python     = "python"
	Ruby       = "ruby"
)

// grammars maps grammar names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	grammars     map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			CSS:        css.GetLanguage(),
			HTML:       html.GetLanguage(),
			JavaScript: javascript.GetLanguage(),
			PHP:        php.GetLanguage(),
			Python:     python.GetLanguage(),
			Ruby:       ruby.GetLanguage(),
		}
	})
}

// For returns the tree-sitter Language for a grammar name.
func For(name string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := grammars[name]
	return l, ok
}

// Parse parses src with the named grammar. Parsers are not shared, so Parse
// is safe for concurrent use.
func Parse(ctx context.Context, name string, src []byte) (*sitter.Tree, error) {
	lang, ok := For(name)
	if !ok {
		return nil, fmt.Errorf("grammar: unsupported grammar %q", name)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("grammar: %s parse failed: %w", name, err)
	}
	return tree, nil
}

// Text returns the source text covered by n.
func Text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// Line returns the 1-based start line of n.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// EndLine returns the 1-based end line of n.
func EndLine(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}
