package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var phpRegion = Region{
	Family:        FamilyServerScript,
	Open:          []string{"<?", "<?php"},
	Close:         "?>",
	LexDelimiters: true,
}

func TestStyleBands(t *testing.T) {
	t.Parallel()
	s := MakeStyle(FamilyClientScript, ClassString)
	assert.Equal(t, FamilyClientScript, s.Family())
	assert.Equal(t, ClassString, s.Class())
	assert.NotEqual(t, s, MakeStyle(FamilyServerScript, ClassString))
}

func TestFamilyCodes(t *testing.T) {
	t.Parallel()
	for _, f := range Families {
		got, ok := ParseFamily(f.Code())
		require.True(t, ok, f.String())
		assert.Equal(t, f, got)
	}
	_, ok := ParseFamily("XYZ")
	assert.False(t, ok)
	assert.Equal(t, "CSL", FamilyClientScript.Code())
}

func TestPlainIsSingleUse(t *testing.T) {
	t.Parallel()
	seq := Plain{Family: FamilyMarkup}.Tokenize([]byte("hello"))
	toks := Collect(seq)
	require.Len(t, toks, 1)
	assert.Equal(t, Token{Style: MakeStyle(FamilyMarkup, ClassDefault), Start: 0, End: 5}, toks[0])
	assert.Empty(t, Collect(seq), "second range yields nothing")

	assert.Empty(t, Collect(Plain{}.Tokenize(nil)))
}

// covers asserts that tokens tile src exactly.
func covers(t *testing.T, toks []Token, n int) {
	t.Helper()
	pos := 0
	for _, tok := range toks {
		require.Equal(t, pos, tok.Start, "gap or overlap at %d", pos)
		require.Greater(t, tok.End, tok.Start)
		pos = tok.End
	}
	assert.Equal(t, n, pos)
}

func TestMultiScriptElement(t *testing.T) {
	t.Parallel()
	src := "<script>var x;</script>"
	m := &Multi{}
	toks := Collect(m.Tokenize([]byte(src)))
	covers(t, toks, len(src))

	spans := Partition(toks, FamilyMap{FamilyMarkup: "HTML", FamilyClientScript: "JavaScript"}, FamilyMarkup)
	assert.Equal(t, []Span{
		{Start: 0, End: 8, Family: FamilyMarkup},
		{Start: 8, End: 14, Family: FamilyClientScript},
		{Start: 14, End: 23, Family: FamilyMarkup},
	}, spans)
}

func TestMultiUnmappedFamilyFoldsIntoPrimary(t *testing.T) {
	t.Parallel()
	src := "<script>var x;</script>"
	toks := Collect((&Multi{}).Tokenize([]byte(src)))
	spans := Partition(toks, FamilyMap{FamilyMarkup: "HTML"}, FamilyMarkup)
	assert.Equal(t, []Span{{Start: 0, End: 23, Family: FamilyMarkup}}, spans)
}

func TestMultiServerRegion(t *testing.T) {
	t.Parallel()
	src := "<p><?php echo 1; ?></p>"
	m := &Multi{Regions: []Region{phpRegion}}
	toks := Collect(m.Tokenize([]byte(src)))
	covers(t, toks, len(src))

	spans := Partition(toks, FamilyMap{FamilyMarkup: "HTML", FamilyServerScript: "PHP"}, FamilyMarkup)
	assert.Equal(t, []Span{
		{Start: 0, End: 3, Family: FamilyMarkup},
		{Start: 3, End: 19, Family: FamilyServerScript},
		{Start: 19, End: 23, Family: FamilyMarkup},
	}, spans)
}

func TestMultiRegionInsideScript(t *testing.T) {
	t.Parallel()
	src := "<script>var a = <?= $x ?>;</script>"
	m := &Multi{Regions: []Region{{Family: FamilyServerScript, Open: []string{"<?="}, Close: "?>"}}}
	toks := Collect(m.Tokenize([]byte(src)))
	covers(t, toks, len(src))

	fm := FamilyMap{FamilyMarkup: "HTML", FamilyClientScript: "JavaScript", FamilyServerScript: "PHP"}
	spans := Partition(toks, fm, FamilyMarkup)
	var fams []Family
	for _, s := range spans {
		fams = append(fams, s.Family)
	}
	assert.Equal(t, []Family{
		FamilyMarkup, FamilyClientScript, FamilyServerScript, FamilyClientScript, FamilyMarkup,
	}, fams)
}

func TestMultiUnterminatedRegion(t *testing.T) {
	t.Parallel()
	src := "<b><?php if ("
	toks := Collect((&Multi{Regions: []Region{phpRegion}}).Tokenize([]byte(src)))
	covers(t, toks, len(src))
	last := toks[len(toks)-1]
	assert.Equal(t, FamilyServerScript, last.Style.Family())
}

func TestPartitionJoinsGaps(t *testing.T) {
	t.Parallel()
	toks := []Token{
		{Style: MakeStyle(FamilyMarkup, ClassDefault), Start: 2, End: 4},
		{Style: MakeStyle(FamilyClientScript, ClassDefault), Start: 6, End: 8},
	}
	fm := FamilyMap{FamilyMarkup: "HTML", FamilyClientScript: "JavaScript"}
	assert.Equal(t, []Span{
		{Start: 0, End: 6, Family: FamilyMarkup},
		{Start: 6, End: 8, Family: FamilyClientScript},
	}, Partition(toks, fm, FamilyMarkup))
	assert.Equal(t, Partition(toks, fm, FamilyMarkup), Partition(toks, fm, FamilyMarkup))
}

func TestSpanIndex(t *testing.T) {
	t.Parallel()
	spans := []Span{
		{Start: 0, End: 3, Family: FamilyMarkup},
		{Start: 3, End: 19, Family: FamilyServerScript},
		{Start: 19, End: 23, Family: FamilyMarkup},
	}
	tests := []struct {
		offset int
		want   int
	}{
		{0, 0},
		{2, 0},
		{3, 1},
		{18, 1},
		{19, 2},
		{23, 2},
		{24, -1},
		{-1, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpanIndex(spans, tt.offset), "offset %d", tt.offset)
	}
	assert.Equal(t, -1, SpanIndex(nil, 0))
}

func TestTokenIndex(t *testing.T) {
	t.Parallel()
	toks := []Token{{Start: 0, End: 2}, {Start: 2, End: 5}}
	assert.Equal(t, 0, TokenIndex(toks, 1))
	assert.Equal(t, 1, TokenIndex(toks, 2))
	assert.Equal(t, -1, TokenIndex(toks, 5))
}

func TestTreeSitterCoversInput(t *testing.T) {
	t.Parallel()
	src := "# note\nx = \"hi\"  # tail\nprint(x + 1)\n"
	lx := &TreeSitter{Grammar: "python", Family: FamilyServerScript}
	toks := Collect(lx.Tokenize([]byte(src)))
	covers(t, toks, len(src))

	classAt := func(off int) Class { return toks[TokenIndex(toks, off)].Style.Class() }
	assert.Equal(t, ClassComment, classAt(2))
	assert.Equal(t, ClassString, classAt(12))
	assert.Equal(t, ClassNumber, classAt(len(src)-3))
	for _, tok := range toks {
		assert.Equal(t, FamilyServerScript, tok.Style.Family())
	}
}

func TestTreeSitterUnknownGrammar(t *testing.T) {
	t.Parallel()
	lx := &TreeSitter{Grammar: "cobol", Family: FamilyServerScript}
	toks := Collect(lx.Tokenize([]byte("MOVE A TO B.")))
	require.Len(t, toks, 1)
	assert.Equal(t, ClassDefault, toks[0].Style.Class())
}
