// Package lock provides the process-wide indexing lock. Every mutating
// top-level operation (create, reindex, incremental update, delete) must
// hold it; read-only operations never take it. Acquisition is fail-fast:
// a second acquirer gets BUSY instead of blocking.
package lock

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/locusmcp/locus/internal/errors"
)

// markerName is the on-disk marker kept while the lock is held. It doubles
// as evidence for stale-lock sweeps by other tooling.
const markerName = "indexing.lock"

// IndexLock is the single-holder, non-reentrant indexing lock.
type IndexLock struct {
	dir string

	mu     sync.Mutex
	held   bool
	holder string
	marker *flock.Flock
}

// New creates an indexing lock whose marker lives in the index directory.
func New(dir string) *IndexLock {
	return &IndexLock{dir: dir}
}

// Acquire takes the lock for the named operation. Fails fast with BUSY if
// any mutating operation already holds it.
func (l *IndexLock) Acquire(operation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return errors.New(errors.CodeBusy,
			"Another indexing operation is in progress.").
			WithDetail("%s blocked by %s", operation, l.holder)
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return errors.Wrap(errors.CodeDiskFull,
			"The index directory could not be created.", err)
	}

	marker := flock.New(filepath.Join(l.dir, markerName))
	acquired, err := marker.TryLock()
	if err != nil {
		return errors.Wrap(errors.CodeBusy,
			"The indexing lock could not be acquired.", err)
	}
	if !acquired {
		return errors.New(errors.CodeBusy,
			"Another indexing operation is in progress.").
			WithDetail("%s blocked by on-disk marker %s", operation, marker.Path())
	}

	l.held = true
	l.holder = operation
	l.marker = marker
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *IndexLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	l.held = false
	l.holder = ""
	if l.marker != nil {
		_ = l.marker.Unlock()
		_ = os.Remove(l.marker.Path())
		l.marker = nil
	}
}

// Held reports whether the lock is currently held.
func (l *IndexLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Holder returns the operation currently holding the lock, if any.
func (l *IndexLock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
