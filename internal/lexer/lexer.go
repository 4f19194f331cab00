// Package lexer tokenizes source text into styled spans and partitions the
// spans of composite documents into sub-language families.
package lexer

import (
	"iter"
	"sync/atomic"
)

// Family identifies which sub-language governs a span of a document.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyMarkup
	FamilyStylesheet
	FamilyClientScript
	FamilyServerScript
	FamilyTemplate
)

// Families lists the real family codes in merge order.
var Families = []Family{
	FamilyMarkup,
	FamilyStylesheet,
	FamilyClientScript,
	FamilyServerScript,
	FamilyTemplate,
}

var familyCodes = map[Family]string{
	FamilyMarkup:       "M",
	FamilyStylesheet:   "CSS",
	FamilyClientScript: "CSL",
	FamilyServerScript: "SSL",
	FamilyTemplate:     "TPL",
}

// Code returns the short family code used in family maps ("M", "CSL", ...).
func (f Family) Code() string { return familyCodes[f] }

func (f Family) String() string {
	switch f {
	case FamilyMarkup:
		return "markup"
	case FamilyStylesheet:
		return "stylesheet"
	case FamilyClientScript:
		return "client-script"
	case FamilyServerScript:
		return "server-script"
	case FamilyTemplate:
		return "template"
	default:
		return "none"
	}
}

// ParseFamily maps a family code back to its Family.
func ParseFamily(code string) (Family, bool) {
	for f, c := range familyCodes {
		if c == code {
			return f, true
		}
	}
	return FamilyNone, false
}

// FamilyMap declares which sub-language a composite language uses for each
// family, e.g. {M: "HTML", CSL: "JavaScript", SSL: "PHP"}.
type FamilyMap map[Family]string

// Class is the lexical category of a token within its family.
type Class uint8

const (
	ClassDefault Class = iota
	ClassWhitespace
	ClassComment
	ClassString
	ClassNumber
	ClassIdentifier
	ClassKeyword
	ClassOperator
	ClassTag
	ClassAttribute
	ClassDelimiter
)

// Style packs a family band and a class into one style id.
type Style uint16

// MakeStyle builds the style id for class c in family f's band.
func MakeStyle(f Family, c Class) Style { return Style(f)<<8 | Style(c) }

// Family returns the band the style belongs to.
func (s Style) Family() Family { return Family(s >> 8) }

// Class returns the lexical class of the style.
func (s Style) Class() Class { return Class(s & 0xff) }

// Token is one styled span [Start, End) of the source.
type Token struct {
	Style Style
	Start int
	End   int
}

// Lexer turns source text into a contiguous token sequence covering the
// whole input. The returned sequence is lazy and single-use.
type Lexer interface {
	Tokenize(src []byte) iter.Seq[Token]
}

// Collect drains a token sequence.
func Collect(seq iter.Seq[Token]) []Token {
	var toks []Token
	for t := range seq {
		toks = append(toks, t)
	}
	return toks
}

// singleUse wraps seq so a second range over it yields nothing.
func singleUse(seq iter.Seq[Token]) iter.Seq[Token] {
	var used atomic.Bool
	return func(yield func(Token) bool) {
		if used.Swap(true) {
			return
		}
		seq(yield)
	}
}

// Plain tokenizes the whole input as one default-class token of a family.
type Plain struct {
	Family Family
}

func (p Plain) Tokenize(src []byte) iter.Seq[Token] {
	return singleUse(func(yield func(Token) bool) {
		if len(src) > 0 {
			yield(Token{Style: MakeStyle(p.Family, ClassDefault), Start: 0, End: len(src)})
		}
	})
}
