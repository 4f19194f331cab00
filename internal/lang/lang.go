// Package lang defines language descriptors, the capability bundle every
// registered language supplies to the engine, and the registry that maps
// language names to them.
package lang

import (
	"context"
	"strings"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/lexer"
)

// Source is an immutable snapshot of a document handed to a Driver.
type Source struct {
	Path     string
	Language string
	Text     []byte
	Tokens   []lexer.Token
	Spans    []lexer.Span
}

// Driver produces the structural index of a source. Scanning is best
// effort: Scan always returns a blob, and a non-nil error describes the
// regions that could not be scanned.
type Driver interface {
	Scan(ctx context.Context, src *Source) (*cix.Node, error)
}

// Traits selects the orthogonal buffer capabilities of a language.
type Traits struct {
	// Partitioned buffers split their text into sub-language families.
	Partitioned bool
	// XMLAware buffers track markup element nesting.
	XMLAware bool
}

// CompletionKey is the part of a completion candidate a comparator sees.
type CompletionKey struct {
	Name string
	Ilk  cix.Ilk
}

// Intelligence holds the per-language trigger and ranking configuration.
// The character sets are hand-tuned data, not derived from a grammar.
type Intelligence struct {
	// MemberOperators fire complete-members when just typed ("." or "->").
	MemberOperators []string
	// CalltipChars fire a calltip when just typed.
	CalltipChars string
	// ArgChars fire calltip-arg inside an open call.
	ArgChars string
	// StopChars close an open completion list when typed.
	StopChars string
	// IdentExtra lists non-alphanumeric characters valid in identifiers.
	IdentExtra string
	// EndTag fires complete-end-tag on "</".
	EndTag bool
	// Compare overrides the default candidate ordering when non-nil.
	Compare func(a, b CompletionKey) int
}

// IsIdentChar reports whether c may appear in an identifier.
func (in *Intelligence) IsIdentChar(c byte) bool {
	if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80 {
		return true
	}
	return in != nil && strings.IndexByte(in.IdentExtra, c) >= 0
}

// Descriptor is the capability bundle of one language. Descriptors are
// immutable once registered.
type Descriptor struct {
	Name       string
	Extensions []string
	Lexer      lexer.Lexer
	Traits     Traits
	Intel      *Intelligence
	Driver     Driver
	// IsCompletionLanguage gates trigger detection for regions in this language.
	IsCompletionLanguage bool
	// Primary is the family of text whose style has no family-map entry.
	Primary   lexer.Family
	FamilyMap lexer.FamilyMap
	// ExternalScanner is the argv used to scan binary sources out of process.
	ExternalScanner []string
}

// IsComposite reports whether the language interleaves several families.
func (d *Descriptor) IsComposite() bool {
	return len(d.FamilyMap) > 1
}

// SubLanguage returns the language governing family f, falling back to the
// descriptor's own name.
func (d *Descriptor) SubLanguage(f lexer.Family) string {
	if name, ok := d.FamilyMap[f]; ok {
		return name
	}
	return d.Name
}

// Clone returns a shallow copy that may be modified before registration.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	if d.Intel != nil {
		in := *d.Intel
		c.Intel = &in
	}
	return &c
}

var ilkRank = map[cix.Ilk]int{
	cix.IlkClass:    0,
	cix.IlkModule:   1,
	cix.IlkFunction: 2,
	cix.IlkVariable: 3,
	cix.IlkElement:  4,
}

// DefaultCompare orders candidates by ilk group, then case-insensitively by
// name, then by exact name.
func DefaultCompare(a, b CompletionKey) int {
	ra, oka := ilkRank[a.Ilk]
	rb, okb := ilkRank[b.Ilk]
	if !oka {
		ra = len(ilkRank)
	}
	if !okb {
		rb = len(ilkRank)
	}
	if ra != rb {
		return ra - rb
	}
	if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return strings.Compare(a.Name, b.Name)
}
