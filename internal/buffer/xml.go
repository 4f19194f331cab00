package buffer

import (
	"strings"

	"github.com/jward/codeintel/internal/lexer"
)

// voidElements never take an end tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true, "!doctype": true,
}

// tagTracker rebuilds the element stack from markup tag tokens.
type tagTracker struct{}

func (tagTracker) OpenElement(text []byte, tokens []lexer.Token, offset int) (string, bool) {
	var stack []string
	prevSlash, pushed := false, false
	for _, t := range tokens {
		if t.Start >= offset {
			break
		}
		if t.Style.Family() != lexer.FamilyMarkup {
			continue
		}
		s := string(text[t.Start:min(t.End, len(text))])
		switch t.Style.Class() {
		case lexer.ClassTag:
			switch {
			case strings.HasPrefix(s, "</"):
				name := strings.ToLower(s[2:])
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == name {
						stack = stack[:i]
						break
					}
				}
			case strings.HasPrefix(s, "<") && len(s) > 1:
				name := strings.ToLower(s[1:])
				pushed = !voidElements[name]
				if pushed {
					stack = append(stack, name)
				}
			case s == ">":
				if prevSlash && pushed {
					stack = stack[:len(stack)-1]
				}
				pushed = false
			}
			prevSlash = false
		case lexer.ClassOperator:
			prevSlash = s == "/"
		case lexer.ClassWhitespace:
		default:
			prevSlash = false
		}
	}
	if len(stack) == 0 {
		return "", false
	}
	return stack[len(stack)-1], true
}
