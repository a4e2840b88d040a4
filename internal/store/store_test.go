package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locusmcp/locus/internal/embed"
	"github.com/locusmcp/locus/internal/errors"
)

const testDims = 64

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.lancedb"), "chunks_code", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func embedText(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := embed.NewStatic(testDims).Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func record(t *testing.T, path, text string) Record {
	t.Helper()
	return Record{
		ID:          uuid.NewString(),
		Path:        path,
		Text:        text,
		Vector:      embedText(t, text),
		StartLine:   1,
		EndLine:     1,
		ContentHash: "abc123",
	}
}

func TestInsertAndSearch_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	hit := record(t, "src/a.ts", "export const x = 1;")
	miss := record(t, "src/b.ts", "// unused")
	require.NoError(t, s.Insert([]Record{hit, miss}))

	results, err := s.Search(embedText(t, "export"), 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "src/a.ts", results[0].Path)
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.InDelta(t, 1.0/(1.0+r.Distance), r.Score, 1e-9)
	}
}

func TestInsert_EmptyIntoAbsentTable(t *testing.T) {
	s := openTestStore(t)

	err := s.Insert(nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeEmptySchema, errors.CodeOf(err))

	// Once the table exists, an empty insert is a no-op.
	require.NoError(t, s.Insert([]Record{record(t, "a.go", "package a")}))
	assert.NoError(t, s.Insert(nil))
}

func TestInsert_RejectsWrongDimension(t *testing.T) {
	s := openTestStore(t)
	bad := record(t, "a.go", "package a")
	bad.Vector = make([]float32, testDims+1)

	err := s.Insert([]Record{bad})
	require.Error(t, err)
	assert.Equal(t, errors.CodeDimensionMismatch, errors.CodeOf(err))
}

func TestSearch_DimensionAndKBounds(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{record(t, "a.go", "package a")}))

	_, err := s.Search(make([]float32, testDims+1), 5)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDimensionMismatch, errors.CodeOf(err))

	_, err = s.Search(make([]float32, testDims), 0)
	require.Error(t, err, "k=0 must be rejected")

	// k beyond the clamp succeeds and returns what exists.
	results, err := s.Search(embedText(t, "package"), MaxSearchK+50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchByPath_GlobScenario(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []string{"src/index.ts", "src/util/hash.ts", "README.md", "package.json"} {
		require.NoError(t, s.Insert([]Record{record(t, p, "content of "+p)}))
	}

	matches, err := s.SearchByPath("src/**/*.ts", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/index.ts", "src/util/hash.ts"}, matches)
}

func TestSearchByPath_NoMatchesIsEmptyNotError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{record(t, "main.go", "package main")}))

	matches, err := s.SearchByPath("*.py", 20)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NotNil(t, matches)
}

func TestSearchByPath_InvalidPattern(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SearchByPath("src/[", 20)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidPattern, errors.CodeOf(err))
}

func TestGetByIDs_DropsMalformed(t *testing.T) {
	s := openTestStore(t)
	rec := record(t, "a.go", "package a")
	require.NoError(t, s.Insert([]Record{rec}))

	got, err := s.GetByIDs([]string{
		rec.ID,
		"not-a-uuid",
		"12345678-1234-1234-1234-123456789012", // not version 4
		"'; DROP TABLE chunks_code; --",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Path, got[rec.ID].Path)

	// The table is still intact after the injection attempt.
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteByPath_CountsAndRemoves(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{
		record(t, "a.go", "package a\nfunc A() {}"),
		record(t, "a.go", "func B() {}"),
		record(t, "b.go", "package b"),
	}))

	n, err := s.DeleteByPath("a.go")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestDeleteByPath_EscapesQuotes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{record(t, "it's.go", "package odd")}))

	n, err := s.DeleteByPath("it's.go")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteByIDs(t *testing.T) {
	s := openTestStore(t)
	a := record(t, "a.go", "package a")
	b := record(t, "b.go", "package b")
	require.NoError(t, s.Insert([]Record{a, b}))

	n, err := s.DeleteByIDs([]string{a.ID, "malformed"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListFiles_UniqueSorted(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{
		record(t, "b.go", "package b"),
		record(t, "a.go", "package a\nfunc A() {}"),
		record(t, "a.go", "func B() {}"),
	}))

	files, err := s.ListFiles(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, files)

	files, err = s.ListFiles(1)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index.lancedb")

	s, err := Open(dir, "chunks_code", testDims)
	require.NoError(t, err)
	rec := record(t, "kept.go", "package kept")
	require.NoError(t, s.Insert([]Record{rec}))
	require.NoError(t, s.Close())

	s2, err := Open(dir, "chunks_code", testDims)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	results, err := s2.Search(embedText(t, "kept"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept.go", results[0].Path)
}

func TestOpen_RemovesStaleLockfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index.lancedb")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	stale := filepath.Join(dir, "chunks_code.lock")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(stale, old, old))

	s, err := Open(dir, "chunks_code", testDims)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
}

func TestRemoveStaleLocks_KeepsFreshLockfiles(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "recent.lock")
	require.NoError(t, os.WriteFile(fresh, nil, 0o644))

	RemoveStaleLocks(dir)

	_, err := os.Stat(fresh)
	assert.NoError(t, err, "fresh lockfile must survive the sweep")
}

func TestCreateVectorIndex_BelowThresholdIsBruteForce(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Insert([]Record{record(t, "a.go", "package a")}))

	require.NoError(t, s.CreateVectorIndex(nil))
	assert.Nil(t, s.ann, "below threshold there is no ANN layer")

	results, err := s.Search(embedText(t, "package"), 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndexParamDefaults(t *testing.T) {
	assert.Equal(t, 100, defaultPartitions(10000))
	assert.Equal(t, 1, defaultPartitions(0))
	assert.Equal(t, 256, defaultPartitions(100000000))

	assert.Equal(t, 24, defaultSubVectors(384))
	assert.Equal(t, 48, defaultSubVectors(768))
	assert.Equal(t, 25, defaultSubVectors(200))
	assert.Equal(t, 1, defaultSubVectors(100))
}
