package grammar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForKnownGrammars(t *testing.T) {
	t.Parallel()
	for _, name := range []string{CSS, HTML, JavaScript, PHP, Python, Ruby} {
		l, ok := For(name)
		assert.True(t, ok, name)
		assert.NotNil(t, l, name)
	}
	_, ok := For("cobol")
	assert.False(t, ok)
}

func TestParseAndLines(t *testing.T) {
	t.Parallel()
	src := []byte("def f():\n    return 1\n")
	tree, err := Parse(context.Background(), Python, src)
	require.NoError(t, err)
	defer tree.Close()

	root := tree.RootNode()
	require.EqualValues(t, 1, root.NamedChildCount())
	def := root.NamedChild(0)
	assert.Equal(t, "function_definition", def.Type())
	assert.Equal(t, 1, Line(def))
	assert.Equal(t, 2, EndLine(def))
	assert.Equal(t, "f", Text(def.ChildByFieldName("name"), src))
	assert.Empty(t, Text(nil, src))
}

func TestParseUnsupported(t *testing.T) {
	t.Parallel()
	_, err := Parse(context.Background(), "cobol", []byte("x"))
	assert.ErrorContains(t, err, `unsupported grammar "cobol"`)
}
