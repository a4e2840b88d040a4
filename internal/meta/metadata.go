// Package meta persists the index metadata journal: versioning, statistics,
// and the indexing state machine used as crash evidence.
package meta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version is the metadata migration key.
const Version = "1.0.0"

// IndexingStatus is the indexing state machine value.
type IndexingStatus string

const (
	// StatusComplete means the last run finished cleanly.
	StatusComplete IndexingStatus = "complete"
	// StatusInProgress means a run is active, or was interrupted by a crash.
	StatusInProgress IndexingStatus = "in_progress"
	// StatusFailed means the last run ended with an error.
	StatusFailed IndexingStatus = "failed"
)

// Stats are the index statistics reported by status tools.
type Stats struct {
	TotalFiles       int   `json:"total_files"`
	TotalChunks      int   `json:"total_chunks"`
	StorageSizeBytes int64 `json:"storage_size_bytes"`
	FailedEmbeddings int   `json:"failed_embeddings,omitempty"`
}

// IndexingState tracks a run through in_progress to complete or failed.
type IndexingState struct {
	State          IndexingStatus `json:"state"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	LastCheckpoint *time.Time     `json:"last_checkpoint,omitempty"`
	ExpectedFiles  int            `json:"expected_files,omitempty"`
	ProcessedFiles int            `json:"processed_files,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// Metadata is the on-disk journal document.
type Metadata struct {
	Version               string         `json:"version"`
	ProjectPath           string         `json:"project_path"`
	CreatedAt             time.Time      `json:"created_at"`
	LastFullIndex         time.Time      `json:"last_full_index"`
	LastIncrementalUpdate *time.Time     `json:"last_incremental_update,omitempty"`
	Stats                 Stats          `json:"stats"`
	IndexingState         *IndexingState `json:"indexing_state,omitempty"`
}

// New creates a fresh metadata record for a project.
func New(projectPath string) *Metadata {
	now := time.Now().UTC()
	return &Metadata{
		Version:     Version,
		ProjectPath: projectPath,
		CreatedAt:   now,
		IndexingState: &IndexingState{
			State: StatusComplete,
		},
	}
}

// Load reads metadata from path. Returns (nil, nil) when the file does not
// exist. Legacy records without an indexing_state are read as complete.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if m.IndexingState == nil {
		m.IndexingState = &IndexingState{State: StatusComplete}
	}
	return &m, nil
}

// Save writes the metadata atomically.
func Save(path string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// BeginRun transitions the state machine to in_progress.
func (m *Metadata) BeginRun(expectedFiles int) {
	now := time.Now().UTC()
	m.IndexingState = &IndexingState{
		State:         StatusInProgress,
		StartedAt:     &now,
		ExpectedFiles: expectedFiles,
	}
}

// Checkpoint records forward progress during a run.
func (m *Metadata) Checkpoint(processedFiles int) {
	if m.IndexingState == nil {
		return
	}
	now := time.Now().UTC()
	m.IndexingState.LastCheckpoint = &now
	m.IndexingState.ProcessedFiles = processedFiles
}

// CompleteRun transitions to complete and stamps the full-index time when
// full is set.
func (m *Metadata) CompleteRun(full bool) {
	now := time.Now().UTC()
	m.IndexingState = &IndexingState{State: StatusComplete}
	if full {
		m.LastFullIndex = now
	} else {
		m.LastIncrementalUpdate = &now
	}
}

// FailRun transitions to failed with the given reason.
func (m *Metadata) FailRun(reason string) {
	now := time.Now().UTC()
	m.IndexingState = &IndexingState{
		State:          StatusFailed,
		LastCheckpoint: &now,
		ErrorMessage:   reason,
	}
}

// Status returns the current state machine value.
func (m *Metadata) Status() IndexingStatus {
	if m.IndexingState == nil {
		return StatusComplete
	}
	return m.IndexingState.State
}

// Interrupted reports whether the journal shows an interrupted run: a
// process observing in_progress at startup knows the previous run died.
func (m *Metadata) Interrupted() bool {
	return m.Status() == StatusInProgress
}
