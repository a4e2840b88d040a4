package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	m := New("/home/dev/project")
	m.Stats = Stats{TotalFiles: 10, TotalChunks: 42, StorageSizeBytes: 4096}
	m.CompleteRun(true)
	require.NoError(t, Save(path, m))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, m.ProjectPath, loaded.ProjectPath)
	assert.Equal(t, m.Stats, loaded.Stats)
	assert.Equal(t, StatusComplete, loaded.Status())
	assert.False(t, loaded.LastFullIndex.IsZero())
}

func TestLoad_MissingFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "metadata.json"))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLoad_LegacyWithoutIndexingState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	legacy := `{
		"version": "1.0.0",
		"project_path": "/p",
		"created_at": "2024-01-01T00:00:00Z",
		"last_full_index": "2024-01-02T00:00:00Z",
		"stats": {"total_files": 1, "total_chunks": 2, "storage_size_bytes": 3}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, StatusComplete, m.Status())
	assert.False(t, m.Interrupted())
}

func TestStateMachine_Transitions(t *testing.T) {
	m := New("/p")

	m.BeginRun(100)
	assert.Equal(t, StatusInProgress, m.Status())
	assert.True(t, m.Interrupted())
	assert.Equal(t, 100, m.IndexingState.ExpectedFiles)

	m.Checkpoint(40)
	assert.Equal(t, 40, m.IndexingState.ProcessedFiles)
	assert.NotNil(t, m.IndexingState.LastCheckpoint)

	m.CompleteRun(false)
	assert.Equal(t, StatusComplete, m.Status())
	assert.NotNil(t, m.LastIncrementalUpdate)

	m.BeginRun(10)
	m.FailRun("cancelled")
	assert.Equal(t, StatusFailed, m.Status())
	assert.Equal(t, "cancelled", m.IndexingState.ErrorMessage)
}

func TestInterrupted_DetectsCrashEvidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	m := New("/p")
	m.BeginRun(5)
	require.NoError(t, Save(path, m))

	// A fresh process reading in_progress concludes the run was interrupted.
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Interrupted())
}
