package dirty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndMarkDeleted_MutuallyExclusive(t *testing.T) {
	q, err := Load(filepath.Join(t.TempDir(), "dirty-files.json"))
	require.NoError(t, err)

	q.Add("src/a.go")
	q.MarkDeleted("src/a.go")
	assert.Empty(t, q.Pending())
	assert.Equal(t, []string{"src/a.go"}, q.Tombstoned())
	assert.Equal(t, 1, q.Len(), "a path and its tombstone never coexist")

	// The most recent event wins.
	q.Add("src/a.go")
	assert.Equal(t, []string{"src/a.go"}, q.Pending())
	assert.Empty(t, q.Tombstoned())
	assert.Equal(t, 1, q.Len())
}

func TestRemove_ClearsBoth(t *testing.T) {
	q, err := Load(filepath.Join(t.TempDir(), "dirty-files.json"))
	require.NoError(t, err)

	q.Add("a.go")
	q.MarkDeleted("b.go")
	q.Remove("a.go")
	q.Remove("b.go")

	assert.Zero(t, q.Len())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty-files.json")

	q, err := Load(path)
	require.NoError(t, err)
	q.Add("pending.go")
	q.MarkDeleted("gone.go")
	require.NoError(t, q.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__deleted__:gone.go"`)
	assert.Contains(t, string(data), `"lastModified"`)
	assert.Contains(t, string(data), `"version": "1.0.0"`)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending.go"}, reloaded.Pending())
	assert.Equal(t, []string{"gone.go"}, reloaded.Tombstoned())
}

func TestSave_DirtyBitSkipsUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty-files.json")

	q, err := Load(path)
	require.NoError(t, err)
	q.Add("a.go")
	require.NoError(t, q.Save())

	info1, err := os.Stat(path)
	require.NoError(t, err)

	// No mutation: the save must not rewrite the file.
	require.NoError(t, q.Save())
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestLoad_CorruptContentYieldsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty-files.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	q, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}
