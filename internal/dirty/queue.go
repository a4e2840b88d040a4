// Package dirty persists the set of paths pending index work across
// crashes. Removals share the same set as pending adds, distinguished by a
// reserved tombstone prefix that is part of the on-disk contract.
package dirty

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TombstonePrefix marks a pending removal. The literal is part of the
// on-disk contract; other tools may read the file.
const TombstonePrefix = "__deleted__:"

// queueVersion is the on-disk document version.
const queueVersion = "1.0.0"

type queueDoc struct {
	Version      string   `json:"version"`
	DirtyFiles   []string `json:"dirtyFiles"`
	LastModified string   `json:"lastModified"`
}

// Queue is the crash-safe set of paths pending indexing.
type Queue struct {
	path string

	mu       sync.Mutex
	entries  map[string]struct{}
	modified bool // dirty bit: skip saves when nothing changed
}

// Load reads the queue from path. A missing file yields an empty queue;
// unreadable content also yields an empty queue, because losing the queue
// only costs work that the integrity sweep will rediscover.
func Load(path string) (*Queue, error) {
	q := &Queue{path: path, entries: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dirty queue: %w", err)
	}

	var doc queueDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return q, nil
	}
	for _, e := range doc.DirtyFiles {
		q.entries[e] = struct{}{}
	}
	return q, nil
}

// Add marks a path as pending add/modify, clearing any tombstone for it.
// The most recent event wins.
func (q *Queue) Add(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, TombstonePrefix+path)
	q.entries[path] = struct{}{}
	q.modified = true
}

// MarkDeleted marks a path as pending removal, clearing any plain entry.
func (q *Queue) MarkDeleted(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, path)
	q.entries[TombstonePrefix+path] = struct{}{}
	q.modified = true
}

// Remove clears both the plain entry and the tombstone for a path.
func (q *Queue) Remove(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[path]; ok {
		delete(q.entries, path)
		q.modified = true
	}
	if _, ok := q.entries[TombstonePrefix+path]; ok {
		delete(q.entries, TombstonePrefix+path)
		q.modified = true
	}
}

// Pending returns the plain paths awaiting indexing, sorted.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for e := range q.entries {
		if !strings.HasPrefix(e, TombstonePrefix) {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Tombstoned returns the prefix-stripped paths awaiting removal, sorted.
func (q *Queue) Tombstoned() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for e := range q.entries {
		if strings.HasPrefix(e, TombstonePrefix) {
			out = append(out, strings.TrimPrefix(e, TombstonePrefix))
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of entries, tombstones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Save persists the queue atomically. A save with no modifications since
// the last one is a no-op.
func (q *Queue) Save() error {
	q.mu.Lock()
	if !q.modified {
		q.mu.Unlock()
		return nil
	}
	entries := make([]string, 0, len(q.entries))
	for e := range q.entries {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	doc := queueDoc{
		Version:      queueVersion,
		DirtyFiles:   entries,
		LastModified: time.Now().UTC().Format(time.RFC3339),
	}
	q.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dirty queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(q.path), filepath.Base(q.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write dirty queue: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write dirty queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write dirty queue: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write dirty queue: %w", err)
	}

	q.mu.Lock()
	q.modified = false
	q.mu.Unlock()
	return nil
}
