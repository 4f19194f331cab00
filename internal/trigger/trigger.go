// Package trigger decides, from a buffer and a cursor position, whether a
// completion or calltip should be offered and where it is anchored.
package trigger

import (
	"slices"
	"strings"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/lexer"
)

// Kind is the kind of candidates a trigger asks for.
type Kind string

const (
	CompleteMembers Kind = "complete-members"
	CompleteNames   Kind = "complete-names"
	Calltip         Kind = "calltip"
	CalltipArg      Kind = "calltip-arg"
	CompleteEndTag  Kind = "complete-end-tag"
)

// maxArgScan bounds the backwards search for an enclosing call.
const maxArgScan = 2000

// Trigger is a detected completion opportunity. It is a plain value:
// detecting twice on an unchanged buffer yields equal Triggers.
type Trigger struct {
	Kind     Kind
	Pos      int // anchor: the trigger character or the identifier start
	Cursor   int
	Implicit bool
	Family   lexer.Family
	Language string // sub-language governing the anchor
	Operator string // member operator for complete-members
	ExprEnd  int    // end of the expression to evaluate
	Prefix   string // identifier text typed between anchor and cursor
}

// Resolver looks up sub-language descriptors.
type Resolver interface {
	Resolve(name string) (*lang.Descriptor, error)
}

// Detector is stateless; all decisions derive from the buffer and position.
type Detector struct {
	langs Resolver
}

// NewDetector creates a Detector resolving sub-languages through r.
func NewDetector(r Resolver) *Detector {
	return &Detector{langs: r}
}

// intelAt resolves the family, language and intelligence governing the
// character before pos.
func (d *Detector) intelAt(b *buffer.Buffer, pos int) (lexer.Family, *lang.Descriptor, bool) {
	fam := b.FamilyAt(pos - 1)
	desc, err := d.langs.Resolve(b.Language().SubLanguage(fam))
	if err != nil || !desc.IsCompletionLanguage || desc.Intel == nil {
		return fam, nil, false
	}
	return fam, desc, true
}

// StopsCompletion reports whether the character just typed before pos is a
// stop character that should close an open completion list.
func (d *Detector) StopsCompletion(b *buffer.Buffer, pos int) bool {
	text := b.Text()
	if pos <= 0 || pos > len(text) {
		return false
	}
	_, desc, ok := d.intelAt(b, pos)
	if !ok {
		return false
	}
	c := text[pos-1]
	return strings.IndexByte(desc.Intel.StopChars, c) >= 0 && !isTriggerChar(desc.Intel, c)
}

// TriggerAt reports the trigger at pos. Implicit triggers fire on member
// operators, calltip and argument characters outside comments and strings;
// explicit triggers always fire, anchored at the start of the identifier
// being typed.
func (d *Detector) TriggerAt(b *buffer.Buffer, pos int, explicit bool) (Trigger, bool) {
	text := b.Text()
	if pos < 0 || pos > len(text) {
		return Trigger{}, false
	}
	if pos == 0 {
		if !explicit {
			return Trigger{}, false
		}
		desc, err := d.langs.Resolve(b.Language().SubLanguage(b.Language().Primary))
		if err != nil || !desc.IsCompletionLanguage {
			return Trigger{}, false
		}
		return Trigger{Kind: CompleteNames, Family: b.Language().Primary, Language: desc.Name}, true
	}

	fam, desc, ok := d.intelAt(b, pos)
	if !ok {
		return Trigger{}, false
	}
	base := Trigger{Cursor: pos, Family: fam, Language: desc.Name}

	if !explicit {
		if b.Language().IsComposite() && d.atSeam(b, pos-1, fam) {
			return Trigger{}, false
		}
		return d.implicit(b, text, pos, desc.Intel, base)
	}
	return d.explicit(b, text, pos, desc.Intel, base)
}

// atSeam reports whether off is the first character of a family span that
// follows a different family.
func (d *Detector) atSeam(b *buffer.Buffer, off int, fam lexer.Family) bool {
	span, ok := b.SpanAt(off)
	if !ok || off == 0 {
		return false
	}
	return span.Start == off && b.FamilyAt(off-1) != fam
}

func (d *Detector) inCommentOrString(b *buffer.Buffer, off int) bool {
	st, ok := b.StyleAt(off)
	if !ok {
		return false
	}
	c := st.Class()
	return c == lexer.ClassComment || c == lexer.ClassString
}

func (d *Detector) implicit(b *buffer.Buffer, text string, pos int, in *lang.Intelligence, t Trigger) (Trigger, bool) {
	if d.inCommentOrString(b, pos-1) {
		return Trigger{}, false
	}
	t.Implicit = true
	t.ExprEnd = pos

	if in.EndTag && b.IsXMLAware() && strings.HasSuffix(text[:pos], "</") {
		t.Kind = CompleteEndTag
		t.Pos = pos - 2
		t.ExprEnd = pos - 2
		return t, true
	}

	if op, ok := memberOperatorBefore(text, pos, in); ok {
		start := pos - len(op)
		if start == 0 || !d.hasOperand(b, text, start, in) {
			return Trigger{}, false
		}
		if b.FamilyAt(start) != t.Family {
			return Trigger{}, false
		}
		t.Kind = CompleteMembers
		t.Pos = start
		t.Operator = op
		t.ExprEnd = start
		return t, true
	}

	c := text[pos-1]
	if strings.IndexByte(in.CalltipChars, c) >= 0 {
		callee := skipSpaceBack(text, pos-1)
		if callee == 0 || !in.IsIdentChar(text[callee-1]) {
			return Trigger{}, false
		}
		t.Kind = Calltip
		t.Pos = pos - 1
		t.ExprEnd = callee
		return t, true
	}
	if strings.IndexByte(in.ArgChars, c) >= 0 {
		open, ok := d.enclosingCall(b, text, pos-1, in)
		if !ok {
			return Trigger{}, false
		}
		t.Kind = CalltipArg
		t.Pos = open
		t.ExprEnd = skipSpaceBack(text, open)
		return t, true
	}
	return Trigger{}, false
}

func (d *Detector) explicit(b *buffer.Buffer, text string, pos int, in *lang.Intelligence, t Trigger) (Trigger, bool) {
	start := pos
	for start > 0 && in.IsIdentChar(text[start-1]) {
		start--
	}
	t.Pos = start
	t.Prefix = text[start:pos]
	t.ExprEnd = start
	t.Kind = CompleteNames
	if op, ok := memberOperatorBefore(text, start, in); ok && start-len(op) > 0 {
		t.Kind = CompleteMembers
		t.Operator = op
		t.ExprEnd = start - len(op)
	}
	return t, true
}

// hasOperand reports whether an expression ends right before off: an
// identifier that is not a number literal, or a closing bracket.
func (d *Detector) hasOperand(b *buffer.Buffer, text string, off int, in *lang.Intelligence) bool {
	c := text[off-1]
	if c == ')' || c == ']' {
		return true
	}
	if !in.IsIdentChar(c) {
		return false
	}
	if st, ok := b.StyleAt(off - 1); ok && st.Class() == lexer.ClassNumber {
		return false
	}
	i := off
	for i > 0 && in.IsIdentChar(text[i-1]) {
		i--
	}
	return text[i] < '0' || text[i] > '9'
}

// enclosingCall finds the unbalanced '(' enclosing off, preceded by a callee.
func (d *Detector) enclosingCall(b *buffer.Buffer, text string, off int, in *lang.Intelligence) (int, bool) {
	span, ok := b.SpanAt(off)
	lower := 0
	if ok {
		lower = span.Start
	}
	if off-maxArgScan > lower {
		lower = off - maxArgScan
	}
	depth := 0
	for i := off - 1; i >= lower; i-- {
		c := text[i]
		if c != '(' && c != ')' && c != '[' && c != ']' && c != '{' && c != '}' && c != ';' {
			continue
		}
		if d.inCommentOrString(b, i) {
			continue
		}
		switch c {
		case ')', ']', '}':
			depth++
		case '[':
			depth--
		case '{':
			// An unbalanced brace opens the block the cursor is in.
			if depth == 0 {
				return 0, false
			}
			depth--
		case '(':
			if depth == 0 {
				callee := skipSpaceBack(text, i)
				if callee > 0 && in.IsIdentChar(text[callee-1]) {
					return i, true
				}
				return 0, false
			}
			depth--
		case ';':
			if depth == 0 {
				return 0, false
			}
		}
	}
	return 0, false
}

// memberOperatorBefore returns the longest member operator ending at pos.
func memberOperatorBefore(text string, pos int, in *lang.Intelligence) (string, bool) {
	ops := slices.Clone(in.MemberOperators)
	slices.SortFunc(ops, func(a, b string) int { return len(b) - len(a) })
	for _, op := range ops {
		if op != "" && pos >= len(op) && text[pos-len(op):pos] == op {
			return op, true
		}
	}
	return "", false
}

func isTriggerChar(in *lang.Intelligence, c byte) bool {
	if strings.IndexByte(in.CalltipChars, c) >= 0 || strings.IndexByte(in.ArgChars, c) >= 0 {
		return true
	}
	for _, op := range in.MemberOperators {
		if op != "" && op[len(op)-1] == c {
			return true
		}
	}
	return false
}

func skipSpaceBack(text string, i int) int {
	for i > 0 && (text[i-1] == ' ' || text[i-1] == '\t') {
		i--
	}
	return i
}
