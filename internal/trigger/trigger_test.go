package trigger_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/languages"
	"github.com/jward/codeintel/internal/lexer"
	"github.com/jward/codeintel/internal/trigger"
)

func setup(t *testing.T) (*lang.Registry, *trigger.Detector) {
	t.Helper()
	reg := lang.NewRegistry()
	require.NoError(t, languages.Register(reg, nil))
	return reg, trigger.NewDetector(reg)
}

func open(t *testing.T, reg *lang.Registry, language, text string) *buffer.Buffer {
	t.Helper()
	d, err := reg.Resolve(language)
	require.NoError(t, err)
	return buffer.New("doc", d, text)
}

func TestMemberTriggerAfterDot(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	b := open(t, reg, languages.JavaScript, "foo.\n")

	got, ok := det.TriggerAt(b, 4, false)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteMembers, got.Kind)
	assert.True(t, got.Implicit)
	assert.Equal(t, 3, got.Pos)
	assert.Equal(t, 4, got.Cursor)
	assert.Equal(t, ".", got.Operator)
	assert.Equal(t, languages.JavaScript, got.Language)

	again, _ := det.TriggerAt(b, 4, false)
	assert.Equal(t, got, again, "detection is deterministic")
}

func TestNoImplicitTrigger(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	tests := []struct {
		name     string
		language string
		text     string
		pos      int
	}{
		{"inside comment", languages.JavaScript, "// foo.\n", 7},
		{"inside string", languages.Python, "x = 'foo.bar'\n", 9},
		{"number literal", languages.Python, "x = 1.", 6},
		{"operator without operand", languages.Python, "x = .", 5},
		{"plain identifier", languages.Python, "foo", 3},
		{"start of buffer", languages.Python, "foo", 0},
		{"paren without callee", languages.Python, "x = (", 5},
		{"non-completion language", languages.CSS, "a.b { }", 2},
		{"past the end", languages.Python, "foo", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t, reg, tt.language, tt.text)
			_, ok := det.TriggerAt(b, tt.pos, false)
			assert.False(t, ok)
		})
	}
}

func TestCalltip(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	b := open(t, reg, languages.Python, "foo (")

	got, ok := det.TriggerAt(b, 5, false)
	require.True(t, ok)
	assert.Equal(t, trigger.Calltip, got.Kind)
	assert.Equal(t, 4, got.Pos)
	assert.Equal(t, 3, got.ExprEnd, "expression ends at the callee")
}

func TestCalltipArg(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	tests := []struct {
		name     string
		language string
		text     string
		open     int
	}{
		{"first argument", languages.Python, "foo(a,", 3},
		{"nested call skipped", languages.Python, "foo(bar(1),", 3},
		{"inner call", languages.Python, "foo(bar(1,", 7},
		{"object literal argument", languages.JavaScript, "foo({a: 1},", 3},
		{"function argument", languages.JavaScript, "foo(function() {},", 3},
		{"statements inside argument", languages.JavaScript, "foo(function() { x(); y; },", 3},
		{"closure argument", languages.PHP, "<?php foo(function() { return 1; },", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t, reg, tt.language, tt.text)
			got, ok := det.TriggerAt(b, len(tt.text), false)
			require.True(t, ok)
			assert.Equal(t, trigger.CalltipArg, got.Kind)
			assert.Equal(t, tt.open, got.Pos)
			assert.Equal(t, tt.open, got.ExprEnd)
		})
	}

	b := open(t, reg, languages.Python, "x = [a,")
	_, ok := det.TriggerAt(b, 7, false)
	assert.False(t, ok, "comma outside a call")

	b = open(t, reg, languages.JavaScript, "foo(function() { a,")
	_, ok = det.TriggerAt(b, 19, false)
	assert.False(t, ok, "comma inside a block opened within the call")

	b = open(t, reg, languages.JavaScript, "foo(a); b,")
	_, ok = det.TriggerAt(b, 10, false)
	assert.False(t, ok, "statement boundary ends the search")
}

func TestLongestMemberOperator(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	b := open(t, reg, languages.Ruby, "Foo::")

	got, ok := det.TriggerAt(b, 5, false)
	require.True(t, ok)
	assert.Equal(t, "::", got.Operator)
	assert.Equal(t, 3, got.Pos)
}

func TestExplicit(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)

	text := "import os\nos.pa"
	b := open(t, reg, languages.Python, text)
	got, ok := det.TriggerAt(b, len(text), true)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteMembers, got.Kind)
	assert.False(t, got.Implicit)
	assert.Equal(t, "pa", got.Prefix)
	assert.Equal(t, 13, got.Pos)
	assert.Equal(t, 12, got.ExprEnd)

	b = open(t, reg, languages.Python, "x = fo")
	got, ok = det.TriggerAt(b, 6, true)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteNames, got.Kind)
	assert.Equal(t, "fo", got.Prefix)
	assert.Equal(t, 4, got.Pos)

	got, ok = det.TriggerAt(b, 0, true)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteNames, got.Kind)
}

func TestEndTag(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	b := open(t, reg, languages.HTML, "<div></")

	got, ok := det.TriggerAt(b, 7, false)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteEndTag, got.Kind)
	assert.Equal(t, 5, got.Pos)
	assert.Equal(t, languages.HTML, got.Language)
}

func TestCompositeRegionUsesSubLanguage(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	text := "<p>hi</p><script>foo.</script>"
	b := open(t, reg, languages.HTML, text)
	pos := strings.Index(text, "foo.") + 4

	got, ok := det.TriggerAt(b, pos, false)
	require.True(t, ok)
	assert.Equal(t, trigger.CompleteMembers, got.Kind)
	assert.Equal(t, languages.JavaScript, got.Language)
	assert.Equal(t, lexer.FamilyClientScript, got.Family)
	assert.Equal(t, pos-1, got.Pos)
}

func TestRegionBoundaryNeedsExplicitRequest(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	text := "<script>.</script>"
	b := open(t, reg, languages.HTML, text)
	pos := strings.Index(text, ".") + 1

	_, ok := det.TriggerAt(b, pos, false)
	assert.False(t, ok, "first character of a script region never triggers implicitly")

	got, ok := det.TriggerAt(b, pos, true)
	require.True(t, ok)
	assert.False(t, got.Implicit)
	assert.Equal(t, lexer.FamilyClientScript, got.Family)
	assert.Equal(t, languages.JavaScript, got.Language)
	assert.Equal(t, pos, got.Pos)
}

func TestStopsCompletion(t *testing.T) {
	t.Parallel()
	reg, det := setup(t)
	b := open(t, reg, languages.JavaScript, "foo bar(")

	assert.True(t, det.StopsCompletion(b, 4), "space closes the list")
	assert.False(t, det.StopsCompletion(b, 3))
	assert.False(t, det.StopsCompletion(b, 8), "trigger characters never stop")
	assert.False(t, det.StopsCompletion(b, 0))
}
