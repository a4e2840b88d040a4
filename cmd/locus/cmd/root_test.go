package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locusmcp/locus/pkg/version"
)

func writeTestFile(root, rel, content string) error {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoot_ShowsHelp(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "semantic code search")
	for _, sub := range []string{"serve", "index", "search", "status", "delete", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "locus")
	assert.Contains(t, out, version.Version)
}

func TestStatus_NoIndex(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "status", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No index found")
}

func TestIndexAndStatus(t *testing.T) {
	// HOME is set per-execute, so index and status must share one call tree.
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, writeTestFile(dir, "main.go", "package main"))

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"index", "-C", dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Indexed 1 files")

	cmd = NewRootCmd()
	buf.Reset()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"status", "-C", dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "complete")
}
