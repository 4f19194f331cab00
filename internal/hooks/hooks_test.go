package hooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/runtime"
)

type funcHandler struct {
	name  string
	langs []string
	fn    func(blob *cix.Node) error
}

func (h funcHandler) Name() string        { return h.name }
func (h funcHandler) Languages() []string { return h.langs }
func (h funcHandler) PostDBLoadBlob(_ context.Context, blob *cix.Node) error {
	return h.fn(blob)
}

func jsBlob() *cix.Node {
	blob := cix.NewBlob("app.js", "JavaScript")
	blob.Add(&cix.Node{Kind: cix.KindScope, Ilk: cix.IlkFunction, Name: "jQuery", Line: 2, LineEnd: 9})
	blob.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "version", Line: 10})
	return blob
}

func newLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestApplyRunsInRegistrationOrder(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(name string) Handler {
		return funcHandler{name: name, fn: func(*cix.Node) error {
			order = append(order, name)
			return nil
		}}
	}
	p := NewPipeline(nil, record("a"), record("b"))
	p.Register(record("c"))

	assert.Equal(t, 0, p.Apply(context.Background(), jsBlob()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Len(t, p.Handlers(), 3)
}

func TestRegisterDuringApply(t *testing.T) {
	t.Parallel()
	logger, _ := newLogger()
	p := NewPipeline(logger)
	noop := funcHandler{name: "noop", fn: func(*cix.Node) error { return nil }}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Register(noop)
		}()
		go func() {
			defer wg.Done()
			assert.Zero(t, p.Apply(context.Background(), jsBlob()))
		}()
	}
	wg.Wait()
	assert.Len(t, p.Handlers(), 8)
}

func TestApplyIsolatesFailingHandler(t *testing.T) {
	t.Parallel()

	logger, buf := newLogger()
	blob := jsBlob()
	ranAfter := false

	p := NewPipeline(logger,
		funcHandler{name: "broken", fn: func(b *cix.Node) error {
			b.Add(&cix.Node{Kind: cix.KindVariable, Name: "partial"})
			return errors.New("boom")
		}},
		funcHandler{name: "panicky", fn: func(*cix.Node) error {
			panic("kaboom")
		}},
		funcHandler{name: "after", fn: func(*cix.Node) error {
			ranAfter = true
			return nil
		}},
	)

	assert.Equal(t, 2, p.Apply(context.Background(), blob))
	assert.True(t, ranAfter, "later handlers still run")
	assert.Nil(t, blob.Child("partial"), "failed handler's changes are rolled back")
	assert.True(t, cix.Equal(jsBlob(), blob))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "hook=broken")
	assert.Contains(t, out, "hook=panicky")
	assert.Contains(t, out, "language=JavaScript")
	assert.Contains(t, out, "kaboom")
}

func TestApplyRejectsRemovalOfRealNodes(t *testing.T) {
	t.Parallel()

	logger, buf := newLogger()
	blob := jsBlob()
	p := NewPipeline(logger, funcHandler{name: "greedy", fn: func(b *cix.Node) error {
		b.Children = b.Children[:1]
		return nil
	}})

	assert.Equal(t, 1, p.Apply(context.Background(), blob))
	assert.NotNil(t, blob.Child("version"), "removed node is restored")
	assert.Contains(t, buf.String(), "removed 1 node(s)")
}

func TestApplyTagsAddedNodes(t *testing.T) {
	t.Parallel()

	blob := jsBlob()
	p := NewPipeline(nil, funcHandler{name: "adder", fn: func(b *cix.Node) error {
		b.Add(&cix.Node{Kind: cix.KindVariable, Ilk: cix.IlkVariable, Name: "extra"})
		return nil
	}})

	assert.Equal(t, 0, p.Apply(context.Background(), blob))
	extra := blob.Child("extra")
	require.NotNil(t, extra)
	assert.True(t, extra.Attrs.Has(cix.AttrFabricated))
	assert.Equal(t, "adder", extra.Origin)
}

func TestApplyHandlerMayRemoveItsOwnNodes(t *testing.T) {
	t.Parallel()

	blob := jsBlob()
	blob.Add(&cix.Node{Kind: cix.KindVariable, Name: "old", Attrs: cix.AttrFabricated, Origin: "owner"})
	p := NewPipeline(nil, funcHandler{name: "owner", fn: func(b *cix.Node) error {
		b.Children = b.Children[:2]
		return nil
	}})

	assert.Equal(t, 0, p.Apply(context.Background(), blob))
	assert.Nil(t, blob.Child("old"))
}

func TestApplyFiltersByLanguage(t *testing.T) {
	t.Parallel()

	root := cix.NewBlob("page.html", "HTML")
	markup := root.Add(cix.NewBlob("page.html", "HTML"))
	markup.Family = "M"
	script := root.Add(cix.NewBlob("page.html", "JavaScript"))
	script.Family = "CSL"

	var seen []string
	p := NewPipeline(nil, funcHandler{name: "js", langs: []string{"JavaScript"}, fn: func(b *cix.Node) error {
		seen = append(seen, b.Lang)
		return nil
	}})
	p.Apply(context.Background(), root)
	assert.Equal(t, []string{"JavaScript"}, seen)
}

func TestJQueryAliasesDollar(t *testing.T) {
	t.Parallel()

	blob := jsBlob()
	p := NewPipeline(nil, Builtin()...)
	require.Equal(t, 0, p.Apply(context.Background(), blob))

	dollar := blob.Child("$")
	require.NotNil(t, dollar)
	assert.Equal(t, "jQuery", dollar.Citdl)
	assert.Equal(t, 2, dollar.Line)
	assert.True(t, dollar.Attrs.Has(cix.AttrFabricated))
	assert.Equal(t, "jquery", dollar.Origin)

	// A second load must not duplicate the alias.
	p.Apply(context.Background(), blob)
	count := 0
	for _, c := range blob.Children {
		if c.Name == "$" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestJQuerySkipsOtherBlobs(t *testing.T) {
	t.Parallel()

	blob := cix.NewBlob("util.js", "JavaScript")
	blob.Add(&cix.Node{Kind: cix.KindVariable, Name: "x"})
	NewPipeline(nil, JQuery{}).Apply(context.Background(), blob)
	assert.Nil(t, blob.Child("$"))
}

func TestScriptHandler(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "underscore.risor"), []byte(`
for _, n := range find("version") {
	add_node(0, {"name": "_", "citdl": "Underscore", "line": n["line"]})
}
`), 0644))

	rt := runtime.NewRuntime(dir)
	handlers := FromConfig(rt, []config.Hook{{Name: "underscore", Script: "underscore.risor", Languages: []string{"JavaScript"}}})
	require.Len(t, handlers, 1)
	assert.Equal(t, "underscore", handlers[0].Name())

	blob := jsBlob()
	require.Equal(t, 0, NewPipeline(nil, handlers...).Apply(context.Background(), blob))

	u := blob.Child("_")
	require.NotNil(t, u)
	assert.Equal(t, "Underscore", u.Citdl)
	assert.Equal(t, 10, u.Line)
	assert.Equal(t, "underscore", u.Origin)
}

func TestScriptHandlerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.risor"), []byte(`
add_node(0, {"name": "half"})
assert(false, "bad hook")
`), 0644))

	logger, buf := newLogger()
	rt := runtime.NewRuntime(dir, runtime.WithRuntimeLogger(logger))
	blob := jsBlob()
	p := NewPipeline(logger, append(FromConfig(rt, []config.Hook{{Name: "bad", Script: "bad.risor"}}), JQuery{})...)

	assert.Equal(t, 1, p.Apply(context.Background(), blob))
	assert.Nil(t, blob.Child("half"))
	assert.NotNil(t, blob.Child("$"), "built-in still ran")
	assert.Contains(t, buf.String(), "hook=bad")
}
