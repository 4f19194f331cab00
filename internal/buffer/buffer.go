// Package buffer holds the text of open documents together with their
// lazily recomputed token and sub-language maps.
package buffer

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/lexer"
)

// Partitioner derives the family span table from a token stream.
type Partitioner interface {
	Partition(tokens []lexer.Token) []lexer.Span
}

// XMLAware tracks markup nesting.
type XMLAware interface {
	// OpenElement returns the innermost element left open before offset.
	OpenElement(text []byte, tokens []lexer.Token, offset int) (string, bool)
}

// Buffer is one open document. Edits only mark the maps stale; tokens and
// spans are recomputed on the next query that needs them.
type Buffer struct {
	path string
	desc *lang.Descriptor
	part Partitioner
	xml  XMLAware

	mu      sync.Mutex
	text    []byte
	version int
	dirty   bool
	tokens  []lexer.Token
	spans   []lexer.Span
}

// New creates a buffer for path in the given language. The descriptor's
// traits decide which capabilities the buffer is composed with.
func New(path string, d *lang.Descriptor, text string) *Buffer {
	b := &Buffer{
		path:  path,
		desc:  d,
		text:  []byte(text),
		dirty: true,
	}
	if d.Traits.Partitioned {
		b.part = familyPartitioner{fm: d.FamilyMap, primary: d.Primary}
	} else {
		b.part = familyPartitioner{fm: lexer.FamilyMap{d.Primary: d.Name}, primary: d.Primary}
	}
	if d.Traits.XMLAware {
		b.xml = tagTracker{}
	}
	return b
}

// Path returns the document path.
func (b *Buffer) Path() string { return b.path }

// Language returns the buffer's language descriptor.
func (b *Buffer) Language() *lang.Descriptor { return b.desc }

// Text returns the current text.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

// Len returns the text length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// Version increments on every edit.
func (b *Buffer) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// SetText replaces the whole text.
func (b *Buffer) SetText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = []byte(text)
	b.version++
	b.dirty = true
}

// Edit replaces text[start:end] with repl.
func (b *Buffer) Edit(start, end int, repl string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 0 || end < start || end > len(b.text) {
		return fmt.Errorf("buffer: edit [%d:%d] out of range for length %d", start, end, len(b.text))
	}
	next := make([]byte, 0, len(b.text)-(end-start)+len(repl))
	next = append(next, b.text[:start]...)
	next = append(next, repl...)
	next = append(next, b.text[end:]...)
	b.text = next
	b.version++
	b.dirty = true
	return nil
}

// refresh recomputes tokens and spans when stale. Callers hold b.mu.
func (b *Buffer) refresh() {
	if !b.dirty {
		return
	}
	var toks []lexer.Token
	if b.desc.Lexer != nil {
		toks = lexer.Collect(b.desc.Lexer.Tokenize(b.text))
	} else {
		toks = lexer.Collect(lexer.Plain{Family: b.desc.Primary}.Tokenize(b.text))
	}
	b.tokens = toks
	b.spans = b.part.Partition(toks)
	b.dirty = false
}

// Spans returns the family span table, ordered by offset.
func (b *Buffer) Spans() []lexer.Span {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	out := make([]lexer.Span, len(b.spans))
	copy(out, b.spans)
	return out
}

// Tokens returns the styled token stream.
func (b *Buffer) Tokens() []lexer.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	out := make([]lexer.Token, len(b.tokens))
	copy(out, b.tokens)
	return out
}

// FamilyAt returns the family governing the byte at offset. Offsets outside
// the text, or in an empty buffer, map to the primary family.
func (b *Buffer) FamilyAt(offset int) lexer.Family {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	if i := lexer.SpanIndex(b.spans, offset); i >= 0 {
		return b.spans[i].Family
	}
	return b.desc.Primary
}

// SpanAt returns the span containing offset.
func (b *Buffer) SpanAt(offset int) (lexer.Span, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	if i := lexer.SpanIndex(b.spans, offset); i >= 0 {
		return b.spans[i], true
	}
	return lexer.Span{}, false
}

// StyleAt returns the style of the byte at offset.
func (b *Buffer) StyleAt(offset int) (lexer.Style, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	if i := lexer.TokenIndex(b.tokens, offset); i >= 0 {
		return b.tokens[i].Style, true
	}
	return 0, false
}

// SubLanguageAt returns the language governing the byte at offset.
func (b *Buffer) SubLanguageAt(offset int) string {
	return b.desc.SubLanguage(b.FamilyAt(offset))
}

// OpenElement returns the innermost unclosed markup element before offset.
// Buffers without the XML trait report false.
func (b *Buffer) OpenElement(offset int) (string, bool) {
	if b.xml == nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.xml.OpenElement(b.text, b.tokens, offset)
}

// IsXMLAware reports whether the buffer tracks markup nesting.
func (b *Buffer) IsXMLAware() bool { return b.xml != nil }

// Snapshot returns an immutable copy of the buffer for scanning.
func (b *Buffer) Snapshot() *lang.Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	text := make([]byte, len(b.text))
	copy(text, b.text)
	return &lang.Source{
		Path:     b.path,
		Language: b.desc.Name,
		Text:     text,
		Tokens:   b.tokens,
		Spans:    b.spans,
	}
}

// Signature identifies the current content for scan-cache keys.
func (b *Buffer) Signature() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ContentSignature(b.text)
}

// ContentSignature hashes text into a scan-cache signature.
func ContentSignature(text []byte) string {
	return fmt.Sprintf("xxh:%016x", xxhash.Sum64(text))
}

type familyPartitioner struct {
	fm      lexer.FamilyMap
	primary lexer.Family
}

func (p familyPartitioner) Partition(tokens []lexer.Token) []lexer.Span {
	return lexer.Partition(tokens, p.fm, p.primary)
}
