package lexer

import (
	"bytes"
	"iter"
)

// Region declares an embedded server-script or template region opened and
// closed by literal delimiters, e.g. "<?php" ... "?>".
type Region struct {
	Family Family
	Open   []string // tried longest first
	Close  string
	// LexDelimiters hands the delimiters to the sub-lexer together with the
	// region body (the PHP grammar expects its own "<?php" tag).
	LexDelimiters bool
}

// Multi tokenizes markup documents that embed other languages: <script> and
// <style> element bodies, plus the declared server/template regions which
// may appear anywhere, including inside script bodies and tags.
type Multi struct {
	Regions []Region
	// Sub holds the lexer used for each embedded family. A family without a
	// lexer is emitted as default-class tokens of that family.
	Sub map[Family]Lexer
}

func (m *Multi) Tokenize(src []byte) iter.Seq[Token] {
	return singleUse(func(yield func(Token) bool) {
		s := &multiScanner{m: m, src: src, yield: yield}
		s.run()
	})
}

type multiScanner struct {
	m     *Multi
	src   []byte
	yield func(Token) bool
	done  bool
}

func (s *multiScanner) emit(start, end int, style Style) {
	if s.done || end <= start {
		return
	}
	if !s.yield(Token{Style: style, Start: start, End: end}) {
		s.done = true
	}
}

// sub lexes src[start:end] with the family's lexer, re-banding the tokens
// into family f and shifting them to document offsets.
func (s *multiScanner) sub(f Family, start, end int) {
	if s.done || end <= start {
		return
	}
	lx, ok := s.m.Sub[f]
	if !ok || lx == nil {
		s.emit(start, end, MakeStyle(f, ClassDefault))
		return
	}
	pos := start
	for t := range lx.Tokenize(s.src[start:end]) {
		ts, te := t.Start+start, t.End+start
		if ts > pos {
			s.emit(pos, ts, MakeStyle(f, ClassDefault))
		}
		s.emit(ts, te, MakeStyle(f, t.Style.Class()))
		pos = te
		if s.done {
			return
		}
	}
	if pos < end {
		s.emit(pos, end, MakeStyle(f, ClassDefault))
	}
}

// regionAt reports the region whose open delimiter starts at i.
func (s *multiScanner) regionAt(i int) (Region, string, bool) {
	for _, r := range s.m.Regions {
		best := ""
		for _, open := range r.Open {
			if len(open) > len(best) && bytes.HasPrefix(s.src[i:], []byte(open)) {
				best = open
			}
		}
		if best != "" {
			return r, best, true
		}
	}
	return Region{}, "", false
}

// nextRegion returns the offset of the first region open in [from, to).
func (s *multiScanner) nextRegion(from, to int) int {
	for i := from; i < to; i++ {
		if _, _, ok := s.regionAt(i); ok {
			return i
		}
	}
	return to
}

// region emits one embedded region starting at i and returns its end.
func (s *multiScanner) region(i int, r Region, open string) int {
	bodyStart := i + len(open)
	closeAt := bytes.Index(s.src[bodyStart:], []byte(r.Close))
	end, bodyEnd := len(s.src), len(s.src)
	if closeAt >= 0 {
		bodyEnd = bodyStart + closeAt
		end = bodyEnd + len(r.Close)
	}
	if r.LexDelimiters {
		s.sub(r.Family, i, end)
		return end
	}
	s.emit(i, bodyStart, MakeStyle(r.Family, ClassDelimiter))
	s.sub(r.Family, bodyStart, bodyEnd)
	s.emit(bodyEnd, end, MakeStyle(r.Family, ClassDelimiter))
	return end
}

func (s *multiScanner) run() {
	i := 0
	for i < len(s.src) && !s.done {
		if r, open, ok := s.regionAt(i); ok {
			i = s.region(i, r, open)
			continue
		}
		switch {
		case bytes.HasPrefix(s.src[i:], []byte("<!--")):
			end := indexFrom(s.src, i+4, "-->")
			if end < 0 {
				end = len(s.src)
			} else {
				end += 3
			}
			s.emit(i, end, MakeStyle(FamilyMarkup, ClassComment))
			i = end
		case s.src[i] == '<' && i+1 < len(s.src) && (isTagStart(s.src[i+1]) || s.src[i+1] == '/'):
			name, end := s.tag(i)
			i = end
			switch {
			case equalFold(name, "script"):
				i = s.element(i, FamilyClientScript, "</script")
			case equalFold(name, "style"):
				i = s.element(i, FamilyStylesheet, "</style")
			}
		default:
			end := i + 1
			for end < len(s.src) && s.src[end] != '<' {
				if _, _, ok := s.regionAt(end); ok {
					break
				}
				end++
			}
			cls := ClassDefault
			if len(bytes.TrimSpace(s.src[i:end])) == 0 {
				cls = ClassWhitespace
			}
			s.emit(i, end, MakeStyle(FamilyMarkup, cls))
			i = end
		}
	}
}

// tag emits a start or end tag at i, returning the tag name (empty for end
// tags) and the offset after '>'.
func (s *multiScanner) tag(i int) (string, int) {
	nameStart := i + 1
	closing := s.src[nameStart] == '/'
	if closing {
		nameStart++
	}
	nameEnd := nameStart
	for nameEnd < len(s.src) && isTagChar(s.src[nameEnd]) {
		nameEnd++
	}
	s.emit(i, nameEnd, MakeStyle(FamilyMarkup, ClassTag))
	name := string(s.src[nameStart:nameEnd])

	j := nameEnd
	for j < len(s.src) && !s.done {
		c := s.src[j]
		if r, open, ok := s.regionAt(j); ok {
			j = s.region(j, r, open)
			continue
		}
		switch {
		case c == '>':
			s.emit(j, j+1, MakeStyle(FamilyMarkup, ClassTag))
			if closing {
				return "", j + 1
			}
			return name, j + 1
		case c == '"' || c == '\'':
			end := bytes.IndexByte(s.src[j+1:], c)
			if end < 0 {
				end = len(s.src)
			} else {
				end += j + 2
			}
			if stop := s.nextRegion(j+1, end); stop < end {
				end = stop
			}
			s.emit(j, end, MakeStyle(FamilyMarkup, ClassString))
			j = end
		case isTagChar(c):
			end := j
			for end < len(s.src) && isTagChar(s.src[end]) {
				end++
			}
			s.emit(j, end, MakeStyle(FamilyMarkup, ClassAttribute))
			j = end
		default:
			cls := ClassOperator
			if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
				cls = ClassWhitespace
			}
			s.emit(j, j+1, MakeStyle(FamilyMarkup, cls))
			j++
		}
	}
	if closing {
		return "", j
	}
	return name, j
}

// element emits the body of a <script> or <style> element as family f,
// interrupted by any embedded regions, and returns the offset of its end tag.
func (s *multiScanner) element(i int, f Family, endTag string) int {
	end := indexFold(s.src, i, endTag)
	if end < 0 {
		end = len(s.src)
	}
	for i < end && !s.done {
		stop := s.nextRegion(i, end)
		s.sub(f, i, stop)
		if stop >= end {
			break
		}
		r, open, _ := s.regionAt(stop)
		i = s.region(stop, r, open)
		if i > end {
			// A region swallowed the end tag; find the next one.
			if next := indexFold(s.src, i, endTag); next >= 0 {
				end = next
			} else {
				end = len(s.src)
			}
		}
	}
	return end
}

func isTagStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '!'
}

func isTagChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == ':' || c == '.' || c == '!'
}

func indexFrom(src []byte, from int, sub string) int {
	if from > len(src) {
		return -1
	}
	i := bytes.Index(src[from:], []byte(sub))
	if i < 0 {
		return -1
	}
	return from + i
}

// indexFold finds sub in src[from:] ignoring ASCII case.
func indexFold(src []byte, from int, sub string) int {
	n := len(sub)
	for i := from; i+n <= len(src); i++ {
		if equalFold(string(src[i:i+n]), sub) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	return bytes.EqualFold([]byte(a), []byte(b))
}
