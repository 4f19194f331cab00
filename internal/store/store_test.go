package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeintel/internal/cix"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func pyBlob(path string) *cix.Node {
	blob := cix.NewBlob(path, "Python")
	cls := blob.Add(&cix.Node{Kind: cix.KindScope, Ilk: cix.IlkClass, Name: "Foo", Line: 1, LineEnd: 3})
	cls.Add(&cix.Node{Kind: cix.KindScope, Ilk: cix.IlkFunction, Name: "bar", Line: 2, LineEnd: 3, Signature: "bar(self)"})
	return blob
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_TablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"blobs", "metadata"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	var version string
	require.NoError(t, s.DB().QueryRow("SELECT value FROM metadata WHERE key='schema_version'").Scan(&version))
	assert.Equal(t, "3", version)
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "sz:1", Root: pyBlob("a.py")}))
	require.NoError(t, s.Migrate())

	got, err := s.Get("a.py")
	require.NoError(t, err)
	assert.NotNil(t, got, "same schema version keeps blobs")
}

func TestMigrate_DiscardsOtherSchemaVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "sz:1", Root: pyBlob("a.py")}))
	_, err := s.DB().Exec("UPDATE metadata SET value = '1' WHERE key = 'schema_version'")
	require.NoError(t, err)

	require.NoError(t, s.Migrate())
	got, err := s.Get("a.py")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewStore_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "scan.db")

	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "sz:1", Root: pyBlob("a.py")}))
	require.NoError(t, s.Close())

	s, err = NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())
	got, err := s.Get("a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, cix.Equal(pyBlob("a.py"), got.Root))
}

// =============================================================================
// Blob operations
// =============================================================================

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	scanned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Blob{Path: "pkg/a.py", Language: "Python", Module: "pkg.a", Signature: "sz:10:mt:5", Root: pyBlob("pkg/a.py"), ScannedAt: scanned}
	require.NoError(t, s.Put(in))

	got, err := s.Get("pkg/a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Python", got.Language)
	assert.Equal(t, "pkg.a", got.Module)
	assert.Equal(t, "sz:10:mt:5", got.Signature)
	assert.True(t, scanned.Equal(got.ScannedAt))
	assert.True(t, cix.Equal(in.Root, got.Root))
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.Get("nope.py")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPut_Replaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "sz:1", Root: pyBlob("a.py")}))
	replacement := cix.NewBlob("a.py", "Python")
	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "sz:2", Root: replacement}))

	got, err := s.Get("a.py")
	require.NoError(t, err)
	assert.Equal(t, "sz:2", got.Signature)
	assert.Empty(t, got.Root.Children)

	sig, ok, err := s.Signature("a.py")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sz:2", sig)
}

func TestPutBatch_SingleTransaction(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.PutBatch([]*Blob{
		{Path: "a.py", Language: "Python", Module: "a", Signature: "s", Root: pyBlob("a.py")},
		{Path: "b.py", Language: "Python", Module: "b", Signature: "s", Root: pyBlob("b.py")},
		{Path: "c.js", Language: "JavaScript", Signature: "s", Root: cix.NewBlob("c.js", "JavaScript")},
	}))

	paths, err := s.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py", "c.js"}, paths)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Blobs)
	assert.Equal(t, map[string]int{"Python": 2, "JavaScript": 1}, st.ByLanguage)
	assert.Positive(t, st.Bytes)
}

func TestByModule(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Put(&Blob{Path: "pkg/util.py", Language: "Python", Module: "pkg.util", Signature: "s", Root: pyBlob("pkg/util.py")}))

	got, err := s.ByModule("Python", "pkg.util")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pkg/util.py", got.Path)

	got, err = s.ByModule("Ruby", "pkg.util")
	require.NoError(t, err)
	assert.Nil(t, got, "module lookup is per language")
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "s", Root: pyBlob("a.py")}))

	require.NoError(t, s.Delete("a.py"))
	require.NoError(t, s.Delete("a.py"), "deleting twice is fine")

	got, err := s.Get("a.py")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok, err := s.Signature("a.py")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_RejectsSharedNode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	root := cix.NewBlob("a.py", "Python")
	shared := &cix.Node{Kind: cix.KindVariable, Name: "x"}
	root.Add(shared)
	root.Add(shared)

	err := s.Put(&Blob{Path: "a.py", Language: "Python", Signature: "s", Root: root})
	require.ErrorIs(t, err, cix.ErrShared)
}
