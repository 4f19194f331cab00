package scripts

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/hooks"
	"github.com/jward/codeintel/internal/runtime"
)

func pipeline(t *testing.T) *hooks.Pipeline {
	t.Helper()
	rt := runtime.NewRuntime("", runtime.WithRuntimeFS(FS))
	return hooks.NewPipeline(nil, hooks.FromConfig(rt, Hooks())...)
}

func TestHooksReferenceEmbeddedScripts(t *testing.T) {
	t.Parallel()
	for _, h := range Hooks() {
		_, err := fs.Stat(FS, h.Script)
		assert.NoError(t, err, h.Name)
	}
}

func TestUnderscoreAlias(t *testing.T) {
	t.Parallel()
	blob := cix.NewBlob("lib.js", "JavaScript")
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "lodash", Line: 3})

	require.Zero(t, pipeline(t).Apply(context.Background(), blob))
	u := blob.Child("_")
	require.NotNil(t, u)
	assert.Equal(t, "lodash", u.Citdl)
	assert.Equal(t, 3, u.Line)
	assert.True(t, u.Attrs.Has(cix.AttrFabricated))
	assert.Equal(t, "underscore", u.Origin)
}

func TestUnderscoreKeepsExistingAlias(t *testing.T) {
	t.Parallel()
	blob := cix.NewBlob("lib.js", "JavaScript")
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "underscore", Line: 1})
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "_", Citdl: "Mine", Line: 2})

	require.Zero(t, pipeline(t).Apply(context.Background(), blob))
	assert.Equal(t, "Mine", blob.Child("_").Citdl)
	assert.Len(t, blob.Children, 2)
}

func TestPythonModuleGlobals(t *testing.T) {
	t.Parallel()
	blob := cix.NewBlob("mod.py", "Python")
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "__doc__", Citdl: "str", Line: 1})

	require.Zero(t, pipeline(t).Apply(context.Background(), blob))
	for _, name := range []string{"__name__", "__file__"} {
		n := blob.Child(name)
		require.NotNil(t, n, name)
		assert.Equal(t, "str", n.Citdl)
		assert.True(t, n.Attrs.Has(cix.AttrFabricated))
	}
	assert.False(t, blob.Child("__doc__").Attrs.Has(cix.AttrFabricated), "declared name kept")
}

func TestScriptsSkipOtherLanguages(t *testing.T) {
	t.Parallel()
	blob := cix.NewBlob("lib.rb", "Ruby")
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "lodash", Line: 1})

	require.Zero(t, pipeline(t).Apply(context.Background(), blob))
	assert.Len(t, blob.Children, 1)
}
