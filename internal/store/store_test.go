package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func testRow(start, end string) *PartialPathRow {
	return &PartialPathRow{
		StartNode:  start,
		EndNode:    end,
		SymbolPre:  `{"var":1}`,
		SymbolPost: `{"var":1}`,
		ScopePre:   `{"var":1}`,
		ScopePost:  `{"var":1}`,
		Edges:      `[]`,
		Length:     1,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_StampsFormatVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.GetMetadata("format_version")
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, v)
}

func TestMigrate_RejectsForeignVersion(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetMetadata("format_version", "999"))
	require.Error(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestReplaceFile_InsertAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{"file":"a.py"}`), []*PartialPathRow{
		testRow("#1", "a.py#3"),
		testRow("a.py#3", "a.py#4"),
	}))

	f, err := s.FileByPath("a.py")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "h1", f.Hash)
	assert.NotNil(t, f.AnalyzedAt)
	assert.JSONEq(t, `{"file":"a.py"}`, string(f.Graph))

	paths, err := s.PathsByFile("a.py")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "a.py", paths[0].FilePath)
}

func TestFileByPath_NotFound(t *testing.T) {
	s := newTestStore(t)
	f, err := s.FileByPath("nope.py")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestReplaceFile_ReplacesOnlyThatFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("#1", "a.py#3")}))
	require.NoError(t, s.ReplaceFile("b.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("b.py#3", "#1")}))

	// Reindex a.py with different content.
	require.NoError(t, s.ReplaceFile("a.py", "h2", []byte(`{}`), []*PartialPathRow{
		testRow("#1", "a.py#3"),
		testRow("a.py#3", "a.py#5"),
	}))

	aPaths, err := s.PathsByFile("a.py")
	require.NoError(t, err)
	assert.Len(t, aPaths, 2)

	bPaths, err := s.PathsByFile("b.py")
	require.NoError(t, err)
	assert.Len(t, bPaths, 1)
}

func TestInvalidateFile_MarksStaleAndDropsPaths(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("#1", "a.py#3")}))
	require.NoError(t, s.InvalidateFile("a.py"))

	paths, err := s.PathsByFile("a.py")
	require.NoError(t, err)
	assert.Empty(t, paths)

	f, err := s.FileByPath("a.py")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Nil(t, f.AnalyzedAt)
	assert.NotEmpty(t, f.Graph)

	stale, err := s.StaleFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, stale)

	// Reindexing clears the stale mark.
	require.NoError(t, s.ReplaceFile("a.py", "h2", []byte(`{}`), nil))
	stale, err = s.StaleFiles()
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestPathsStartingAt_CrossesFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("#1", "a.py#3")}))
	require.NoError(t, s.ReplaceFile("b.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("#1", "b.py#3")}))

	paths, err := s.PathsStartingAt("#1")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestPathsEndingAt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{
		testRow("a.py#3", "a.py#4"),
		testRow("a.py#5", "#2"),
	}))

	paths, err := s.PathsEndingAt("a.py#4")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "a.py#3", paths[0].StartNode)

	parked, err := s.PathsEndingAt("#2")
	require.NoError(t, err)
	assert.Len(t, parked, 1)
}

func TestDeleteFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{testRow("#1", "a.py#3")}))
	require.NoError(t, s.DeleteFile("a.py"))

	f, err := s.FileByPath("a.py")
	require.NoError(t, err)
	assert.Nil(t, f)

	n, err := s.CountPaths()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceFile("a.py", "h1", []byte(`{}`), []*PartialPathRow{
		testRow("#1", "a.py#3"),
		testRow("a.py#3", "a.py#4"),
	}))

	files, err := s.CountFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, files)

	paths, err := s.CountPaths()
	require.NoError(t, err)
	assert.Equal(t, 2, paths)
}

func TestMetadata_Upsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetMetadata("k", "v1"))
	require.NoError(t, s.SetMetadata("k", "v2"))

	v, err := s.GetMetadata("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	missing, err := s.GetMetadata("absent")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
