package lexer

import "sort"

// Span is a maximal run of text governed by one family.
type Span struct {
	Start  int
	End    int
	Family Family
}

// Partition folds tokens into family spans. A token whose band has no entry
// in fm is assigned the primary family. Gaps between tokens join the
// preceding span. The result is deterministic for identical input.
func Partition(tokens []Token, fm FamilyMap, primary Family) []Span {
	var spans []Span
	pos := 0
	for _, t := range tokens {
		if t.End <= t.Start {
			continue
		}
		f := t.Style.Family()
		if _, ok := fm[f]; !ok || f == FamilyNone {
			f = primary
		}
		start := t.Start
		if start > pos && len(spans) > 0 {
			spans[len(spans)-1].End = start
		} else if start > pos {
			start = pos
		}
		if n := len(spans); n > 0 && spans[n-1].Family == f {
			spans[n-1].End = t.End
		} else {
			spans = append(spans, Span{Start: start, End: t.End, Family: f})
		}
		pos = t.End
	}
	return spans
}

// SpanIndex returns the index of the span containing offset, or -1. An
// offset equal to the end of the last span maps to the last span.
func SpanIndex(spans []Span, offset int) int {
	if len(spans) == 0 || offset < 0 {
		return -1
	}
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End > offset })
	if i < len(spans) {
		if spans[i].Start <= offset {
			return i
		}
		return -1
	}
	if offset == spans[len(spans)-1].End {
		return len(spans) - 1
	}
	return -1
}

// TokenIndex returns the index of the token containing offset, or -1.
func TokenIndex(tokens []Token, offset int) int {
	i := sort.Search(len(tokens), func(i int) bool { return tokens[i].End > offset })
	if i < len(tokens) && tokens[i].Start <= offset {
		return i
	}
	return -1
}
