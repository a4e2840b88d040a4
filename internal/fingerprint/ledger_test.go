package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locusmcp/locus/internal/errors"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "fingerprints.json"))
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")

	l, err := Load(path)
	require.NoError(t, err)
	l.Set("src/a.go", "aaaa")
	l.Set("src/b.go", "bbbb")
	require.NoError(t, l.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, l.Snapshot(), reloaded.Snapshot())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "1.0.0"`)
	assert.Contains(t, string(data), `"fingerprints"`)
}

func TestLoad_InvalidJSONIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeIndexCorrupt, errors.CodeOf(err))
}

func TestLoad_OversizedIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxLedgerBytes+1))
	require.NoError(t, f.Close())

	_, err = Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeIndexCorrupt, errors.CodeOf(err))
}

func TestSave_AtomicNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fingerprints.json")

	l, err := Load(path)
	require.NoError(t, err)
	l.Set("a", "1")
	require.NoError(t, l.Save())

	// No temp siblings left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fingerprints.json", entries[0].Name())
}

func TestApply(t *testing.T) {
	l := &Ledger{fingerprints: map[string]string{
		"gone.go": "g", "stale.go": "s", "kept.go": "k",
	}}

	l.Apply([]string{"gone.go"}, map[string]string{"stale.go": "s2", "new.go": "n"})

	assert.Equal(t, map[string]string{
		"stale.go": "s2", "kept.go": "k", "new.go": "n",
	}, l.Snapshot())
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	digest, err := HashFile(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest)
	assert.Equal(t, digest, HashBytes([]byte("hello")))
}
