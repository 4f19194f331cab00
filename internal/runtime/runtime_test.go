package runtime

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/cix"
)

// sampleBlob builds a small JavaScript tree:
//
//	blob
//	  jQuery (function)
//	    selector (argument)
//	  version (variable)
func sampleBlob() *cix.Node {
	blob := cix.NewBlob("app.js", "JavaScript")
	fn := blob.Add(&cix.Node{Kind: cix.KindScope, Ilk: cix.IlkFunction, Name: "jQuery", Line: 1, LineEnd: 3})
	fn.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "selector", Line: 1, Attrs: cix.AttrArgument})
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "version", Line: 4, Citdl: "String"})
	return blob
}

func TestRunSource_NodesAndChildren(t *testing.T) {
	t.Parallel()

	tree := NewTree(sampleBlob(), "test")
	rt := NewRuntime("")

	script := `
all := nodes()
assert(len(all) == 4, 'expected 4 nodes, got {len(all)}')
assert(blob["kind"] == "blob", "expected blob root")
assert(blob["lang"] == "JavaScript", "expected JavaScript")

top := children(0)
assert(len(top) == 2, 'expected 2 top-level nodes, got {len(top)}')
assert(top[0]["name"] == "jQuery", "first child is jQuery")
assert(top[1]["citdl"] == "String", "version is a String")

args := children(top[0]["id"])
assert(len(args) == 1, "one argument")
assert(args[0]["attributes"] == "argument", "argument flag")
assert(args[0]["parent_id"] == top[0]["id"], "parent id links back")
`
	require.NoError(t, rt.RunSource(context.Background(), script, tree.Globals()))
}

func TestRunSource_Find(t *testing.T) {
	t.Parallel()

	tree := NewTree(sampleBlob(), "test")
	rt := NewRuntime("")

	script := `
hits := find("version")
assert(len(hits) == 1, "one match")
assert(hits[0]["line"] == 4, "line is carried")
assert(len(find("missing")) == 0, "no match")
`
	require.NoError(t, rt.RunSource(context.Background(), script, tree.Globals()))
}

func TestRunSource_AddNodeMarksFabricated(t *testing.T) {
	t.Parallel()

	blob := sampleBlob()
	tree := NewTree(blob, "jquery")
	rt := NewRuntime("")

	script := `
id := add_node(0, {"name": "$", "citdl": "jQuery"})
added := nodes()[id]
assert(added["fabricated"], "added node is fabricated")
assert(added["kind"] == "variable", "kind defaults to variable")
`
	require.NoError(t, rt.RunSource(context.Background(), script, tree.Globals()))

	got := blob.Child("$")
	require.NotNil(t, got)
	assert.Equal(t, cix.KindVariable, got.Kind)
	assert.Equal(t, cix.IlkVariable, got.Ilk)
	assert.Equal(t, "jQuery", got.Citdl)
	assert.Equal(t, "jquery", got.Origin)
	assert.True(t, got.Attrs.Has(cix.AttrFabricated))
	assert.Equal(t, 1, tree.Added())
}

func TestRunSource_AddNodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"unknown parent", `add_node(99, {"name": "x"})`, "no node with id 99"},
		{"non-scope parent", `add_node(3, {"name": "x"})`, "is not a scope"},
		{"missing name", `add_node(0, {"kind": "variable"})`, "name is required"},
		{"bad kind", `add_node(0, {"name": "x", "kind": "blob"})`, "unsupported kind"},
		{"not a map", `add_node(0, "x")`, "expected map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tree := NewTree(sampleBlob(), "test")
			err := NewRuntime("").RunSource(context.Background(), tt.script, tree.Globals())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunSource_LogUsesLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rt := NewRuntime("", WithRuntimeLogger(logger))

	require.NoError(t, rt.RunSource(context.Background(), `log.Warn("careful")`, nil))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "msg=careful")
	assert.Contains(t, buf.String(), "script=<inline>")
}

func TestRunScript_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hook.risor"), []byte(`x := 1 + 1`), 0644))

	rt := NewRuntime(dir)
	require.NoError(t, rt.RunScript(context.Background(), "hook.risor", nil))
}

func TestRunScript_MissingFile(t *testing.T) {
	rt := NewRuntime(t.TempDir())
	err := rt.RunScript(context.Background(), "nope.risor", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading script")
}

func TestRunScript_ScriptErrorIsWrapped(t *testing.T) {
	rt := NewRuntime("")
	err := rt.RunSource(context.Background(), `assert(false, "boom")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime: script <inline>")
}

func TestLoadScript_FromFSFS(t *testing.T) {
	t.Parallel()

	content := `x := 42`
	mapFS := fstest.MapFS{
		"hooks/jquery.risor": &fstest.MapFile{Data: []byte(content)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("hooks/jquery.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadScript_FromFSFS_NotFound(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("", WithRuntimeFS(fstest.MapFS{}))
	_, err := rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadScript_FromFSFS_StripsLeadingSeparator(t *testing.T) {
	t.Parallel()

	content := `y := 99`
	mapFS := fstest.MapFS{
		"hooks/extra.risor": &fstest.MapFile{Data: []byte(content)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("/hooks/extra.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadScript_FallsBackToDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `z := 7`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(content), 0644))

	rt := NewRuntime(dir)
	got, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// --- Importer wiring tests ---

func TestImport_FSImporter(t *testing.T) {
	// FSImporter resolves "lib_helpers" by trying name + ".risor".
	mapFS := fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func greet(name) {
	return "hello " + name
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import lib_helpers

msg := lib_helpers.greet("world")
assert(msg == "hello world", 'expected "hello world", got ' + msg)
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_FromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0644))

	rt := NewRuntime(dir)

	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	// Imported modules see host globals only if their names reach the importer.
	mapFS := fstest.MapFS{
		"helper.risor": &fstest.MapFile{Data: []byte(`
func alias(target, name) {
	add_node(0, {"name": name, "citdl": target})
}
`)},
	}
	blob := sampleBlob()
	tree := NewTree(blob, "helper")
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import helper
helper.alias("jQuery", "$")
`
	require.NoError(t, rt.RunSource(context.Background(), script, tree.Globals()))
	assert.NotNil(t, blob.Child("$"))
}

func TestNewRuntime_Defaults(t *testing.T) {
	t.Parallel()

	rt := NewRuntime("/some/dir")
	require.NotNil(t, rt)
	assert.Len(t, rt.sources, 1, "disk only")
	assert.Equal(t, "/some/dir", rt.scriptsDir)
	assert.NotNil(t, rt.logger)

	assert.Empty(t, NewRuntime("").sources)
	assert.Len(t, NewRuntime("/some/dir", WithRuntimeFS(fstest.MapFS{})).sources, 2)
}

func TestLoadScript_EmbeddedShadowsDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.risor"), []byte(`a := "disk"`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.risor"), []byte(`b := "disk"`), 0644))
	mapFS := fstest.MapFS{
		"shared.risor": &fstest.MapFile{Data: []byte(`a := "embedded"`)},
	}
	rt := NewRuntime(dir, WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("shared.risor")
	require.NoError(t, err)
	assert.Equal(t, `a := "embedded"`, got)

	got, err = rt.LoadScript("local.risor")
	require.NoError(t, err)
	assert.Equal(t, `b := "disk"`, got, "project scripts load next to bundled ones")
}

func TestLoadScript_AbsolutePathOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	abs := filepath.Join(dir, "abs.risor")
	require.NoError(t, os.WriteFile(abs, []byte(`c := 3`), 0644))

	rt := NewRuntime("", WithRuntimeFS(fstest.MapFS{}))
	got, err := rt.LoadScript(abs)
	require.NoError(t, err)
	assert.Equal(t, `c := 3`, got)
}

func TestLoadScript_Cached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "hook.risor")
	require.NoError(t, os.WriteFile(p, []byte(`v := 1`), 0644))

	rt := NewRuntime(dir)
	_, err := rt.LoadScript("hook.risor")
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	got, err := rt.LoadScript("hook.risor")
	require.NoError(t, err)
	assert.Equal(t, `v := 1`, got)
}

func TestRunHook_CountsAddedNodes(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"alias.risor": &fstest.MapFile{Data: []byte(`
add_node(0, {"name": "$", "citdl": "jQuery"})
add_node(0, {"name": "jq", "citdl": "jQuery"})
`)},
	}
	blob := sampleBlob()
	n, err := NewRuntime("", WithRuntimeFS(mapFS)).RunHook(context.Background(), "alias.risor", "alias", blob)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "alias", blob.Child("jq").Origin)
}
