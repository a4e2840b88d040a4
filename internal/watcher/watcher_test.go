package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, w *Watcher, want int, timeout time.Duration) map[string]Op {
	t.Helper()
	seen := make(map[string]Op)
	deadline := time.After(timeout)
	for len(seen) < want {
		select {
		case batch := <-w.Events():
			for _, e := range batch {
				seen[e.Path] = e.Op
			}
		case <-deadline:
			t.Fatalf("timeout: saw %v, wanted %d events", seen, want)
		}
	}
	return seen
}

func TestWatcher_EmitsAddChangeUnlink(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := New(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()
	assert.True(t, w.Active())

	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))
	seen := collectEvents(t, w, 1, 3*time.Second)
	assert.Contains(t, seen, "a.go")

	// Modify after the first batch flushed.
	require.NoError(t, os.WriteFile(path, []byte("package a // changed"), 0o644))
	seen = collectEvents(t, w, 1, 3*time.Second)
	assert.Equal(t, OpChange, seen["a.go"])

	require.NoError(t, os.Remove(path))
	seen = collectEvents(t, w, 1, 3*time.Second)
	assert.Equal(t, OpUnlink, seen["a.go"])
}

func TestWatcher_DenyListPrefiltered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := New(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	// Denied path events never surface; a normal file does.
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.go"), []byte("package ok"), 0o644))

	seen := collectEvents(t, w, 1, 3*time.Second)
	assert.Contains(t, seen, "ok.go")
	assert.NotContains(t, seen, ".env")
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := New(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "new.go"), []byte("package pkg"), 0o644))

	seen := collectEvents(t, w, 1, 3*time.Second)
	assert.Contains(t, seen, "pkg/new.go")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
	assert.False(t, w.Active())
}
