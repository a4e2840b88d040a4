// Package fingerprint holds the authoritative map of path to content digest
// for what has been indexed, and classifies filesystem deltas against it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/locusmcp/locus/internal/errors"
)

// ledgerVersion is the on-disk document version.
const ledgerVersion = "1.0.0"

// MaxLedgerBytes caps how large a fingerprints document may be before it is
// treated as corrupt rather than loaded.
const MaxLedgerBytes = 50 * 1024 * 1024

// ledgerDoc is the on-disk shape.
type ledgerDoc struct {
	Version      string            `json:"version"`
	Fingerprints map[string]string `json:"fingerprints"`
}

// Ledger is the path -> digest map. Mutated only by the pipeline after a
// successful commit of the corresponding chunks.
type Ledger struct {
	path string

	mu           sync.RWMutex
	fingerprints map[string]string
}

// Load reads the ledger from path. A missing file yields an empty ledger;
// unreadable, oversized, or structurally invalid content is INDEX_CORRUPT.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, fingerprints: make(map[string]string)}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The fingerprint ledger could not be read.", err)
	}
	if info.Size() > MaxLedgerBytes {
		return nil, errors.New(errors.CodeIndexCorrupt,
			"The fingerprint ledger is larger than the load limit.").
			WithDetail("size %d exceeds %d bytes", info.Size(), MaxLedgerBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The fingerprint ledger could not be read.", err)
	}

	var doc ledgerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The fingerprint ledger is not valid JSON.", err)
	}
	if doc.Fingerprints != nil {
		l.fingerprints = doc.Fingerprints
	}
	return l, nil
}

// Save writes the ledger atomically: serialize to a temporary sibling, then
// rename. The target is never truncated in place.
func (l *Ledger) Save() error {
	l.mu.RLock()
	doc := ledgerDoc{Version: ledgerVersion, Fingerprints: l.fingerprints}
	data, err := json.MarshalIndent(doc, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal fingerprints: %w", err)
	}

	return atomicWrite(l.path, data)
}

// atomicWrite writes data to a temp sibling and renames it over path.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.CodeDiskFull, "The index state could not be written.", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.CodeDiskFull, "The index state could not be written.", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.CodeDiskFull, "The index state could not be written.", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.CodeDiskFull, "The index state could not be written.", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.CodeDiskFull, "The index state could not be written.", err)
	}
	return nil
}

// Get returns the digest for a path.
func (l *Ledger) Get(path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	digest, ok := l.fingerprints[path]
	return digest, ok
}

// Set upserts the digest for a path.
func (l *Ledger) Set(path, digest string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fingerprints[path] = digest
}

// Delete drops a path from the ledger.
func (l *Ledger) Delete(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.fingerprints, path)
}

// Len returns the number of tracked paths.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fingerprints)
}

// Snapshot returns a copy of the fingerprint map.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.fingerprints))
	for k, v := range l.fingerprints {
		out[k] = v
	}
	return out
}

// Apply commits a delta outcome: removed paths are dropped and indexed
// paths get their new digests.
func (l *Ledger) Apply(removed []string, indexed map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range removed {
		delete(l.fingerprints, p)
	}
	for p, digest := range indexed {
		l.fingerprints[p] = digest
	}
}

// HashFile computes the hex content digest of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the hex digest of a byte slice, used for chunk hashes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
