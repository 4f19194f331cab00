package citadel

import (
	"strings"

	"github.com/jward/codeintel/internal/lang"
)

// maxExprSegments bounds how far back an expression is extracted.
const maxExprSegments = 32

// Segment is one step of a member path: a name, optionally called.
type Segment struct {
	Name string
	Call bool
}

// Expr is a member path such as foo.bar().baz.
type Expr []Segment

func (e Expr) String() string {
	var b strings.Builder
	for i, s := range e {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Name)
		if s.Call {
			b.WriteString("()")
		}
	}
	return b.String()
}

// Extract reads the member path ending at end, scanning backwards over
// identifiers, member operators and balanced call parentheses.
func Extract(text string, end int, in *lang.Intelligence) Expr {
	var segs []Segment
	i := min(end, len(text))
	for len(segs) < maxExprSegments {
		call := false
		if i > 0 && text[i-1] == ')' {
			open, ok := matchOpen(text, i-1)
			if !ok {
				break
			}
			call = true
			i = open
		}
		start := i
		for start > 0 && in.IsIdentChar(text[start-1]) {
			start--
		}
		if start == i {
			break
		}
		segs = append(segs, Segment{Name: normalizeName(text[start:i]), Call: call})
		i = start
		op, ok := operatorBefore(text, i, in)
		if !ok {
			break
		}
		i -= len(op)
	}
	// Reverse into source order.
	for l, r := 0, len(segs)-1; l < r; l, r = l+1, r-1 {
		segs[l], segs[r] = segs[r], segs[l]
	}
	return segs
}

// ParseCitdl parses a type hint ("mod.Foo", "make()") into a path.
func ParseCitdl(citdl string) Expr {
	var segs []Segment
	for _, part := range strings.Split(citdl, ".") {
		part = strings.TrimSpace(part)
		call := strings.HasSuffix(part, "()")
		part = strings.TrimSuffix(part, "()")
		if part == "" {
			return nil
		}
		segs = append(segs, Segment{Name: normalizeName(part), Call: call})
	}
	return segs
}

// normalizeName strips sigils that are not part of the declared name.
func normalizeName(s string) string {
	return strings.TrimPrefix(s, "$")
}

func operatorBefore(text string, i int, in *lang.Intelligence) (string, bool) {
	best := ""
	for _, op := range in.MemberOperators {
		if len(op) > len(best) && i >= len(op) && text[i-len(op):i] == op {
			best = op
		}
	}
	return best, best != ""
}

// matchOpen returns the '(' matching the ')' at close.
func matchOpen(text string, close int) (int, bool) {
	depth := 0
	for i := close; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i, true
			}
		case ';', '{', '}':
			return 0, false
		}
	}
	return 0, false
}
