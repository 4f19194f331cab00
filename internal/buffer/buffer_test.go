package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/lexer"
)

func htmlPHP() *lang.Descriptor {
	return &lang.Descriptor{
		Name: "PHP-HTML",
		Lexer: &lexer.Multi{Regions: []lexer.Region{{
			Family: lexer.FamilyServerScript, Open: []string{"<?php"}, Close: "?>", LexDelimiters: true,
		}}},
		Traits:  lang.Traits{Partitioned: true, XMLAware: true},
		Primary: lexer.FamilyMarkup,
		FamilyMap: lexer.FamilyMap{
			lexer.FamilyMarkup:       "HTML",
			lexer.FamilyClientScript: "JavaScript",
			lexer.FamilyServerScript: "PHP",
		},
	}
}

func plainPython() *lang.Descriptor {
	return &lang.Descriptor{Name: "Python", Primary: lexer.FamilyServerScript}
}

func TestEdit(t *testing.T) {
	t.Parallel()
	b := New("a.py", plainPython(), "x = 1\n")
	require.NoError(t, b.Edit(4, 5, "42"))
	assert.Equal(t, "x = 42\n", b.Text())
	assert.Equal(t, 1, b.Version())

	require.NoError(t, b.Edit(b.Len(), b.Len(), "y = 2\n"))
	assert.Equal(t, "x = 42\ny = 2\n", b.Text())

	assert.Error(t, b.Edit(3, 2, ""))
	assert.Error(t, b.Edit(0, 99, ""))
	assert.Equal(t, 2, b.Version(), "rejected edits leave the buffer alone")
}

func TestSetTextMarksMapsStale(t *testing.T) {
	t.Parallel()
	b := New("p.php", htmlPHP(), "<p>hi</p>")
	assert.Len(t, b.Spans(), 1)

	b.SetText("<p><?php echo 1; ?></p>")
	spans := b.Spans()
	require.Len(t, spans, 3)
	assert.Equal(t, lexer.FamilyServerScript, spans[1].Family)
}

func TestSubLanguageAt(t *testing.T) {
	t.Parallel()
	text := "<div><?php $x = 1; ?></div><script>var y;</script>"
	b := New("p.php", htmlPHP(), text)

	assert.Equal(t, "HTML", b.SubLanguageAt(1))
	assert.Equal(t, "PHP", b.SubLanguageAt(10))
	assert.Equal(t, "JavaScript", b.SubLanguageAt(len("<div><?php $x = 1; ?></div><script>")+1))
	assert.Equal(t, lexer.FamilyMarkup, b.FamilyAt(999), "out of range maps to the primary family")

	span, ok := b.SpanAt(10)
	require.True(t, ok)
	assert.Equal(t, 5, span.Start)
}

func TestSinglePartitionForPlainLanguage(t *testing.T) {
	t.Parallel()
	b := New("a.py", plainPython(), "import os\n")
	assert.Equal(t, []lexer.Span{{Start: 0, End: 10, Family: lexer.FamilyServerScript}}, b.Spans())
	assert.Equal(t, "Python", b.SubLanguageAt(3))
	assert.False(t, b.IsXMLAware())
	_, ok := b.OpenElement(3)
	assert.False(t, ok)
}

func TestOpenElement(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"innermost", "<html><body><span>hi</", "span", true},
		{"void and self-closing skipped", "<div><br><img src='a'/><hr>", "div", true},
		{"closed", "<p>a</p>", "", false},
		{"mismatched close pops to match", "<ul><li><b>x</li>", "ul", true},
		{"case folded", "<DIV><P>", "p", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("p.php", htmlPHP(), tt.text)
			got, ok := b.OpenElement(len(tt.text))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignature(t *testing.T) {
	t.Parallel()
	b := New("a.py", plainPython(), "x = 1\n")
	sig := b.Signature()
	assert.Regexp(t, `^xxh:[0-9a-f]{16}$`, sig)
	assert.Equal(t, ContentSignature([]byte("x = 1\n")), sig)

	b.SetText("x = 2\n")
	assert.NotEqual(t, sig, b.Signature())
	b.SetText("x = 1\n")
	assert.Equal(t, sig, b.Signature(), "signature depends on content only")
}

func TestSnapshotIsIndependent(t *testing.T) {
	t.Parallel()
	b := New("a.py", plainPython(), "x = 1\n")
	snap := b.Snapshot()
	require.NoError(t, b.Edit(0, 1, "y"))
	assert.Equal(t, "x = 1\n", string(snap.Text))
	assert.Equal(t, "Python", snap.Language)
	assert.Equal(t, "a.py", snap.Path)
}

func TestConcurrentEditsAndQueries(t *testing.T) {
	t.Parallel()
	b := New("p.php", htmlPHP(), "<p><?php echo 1; ?></p>")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Edit(0, 0, " ")
				return
			}
			_ = b.SubLanguageAt(5)
			_ = b.Snapshot()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, b.Version())
}
