package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.RespectGitignore)
	assert.Equal(t, "1MB", cfg.MaxFileSize)
	assert.Equal(t, 50000, cfg.MaxFiles)
	assert.Equal(t, int64(1024*1024), cfg.MaxFileSizeBytes())
}

func TestParse_FullDocument(t *testing.T) {
	data := []byte(`{
		"include": ["src/**"],
		"exclude": ["**/*.gen.go"],
		"respectGitignore": false,
		"maxFileSize": "512KB",
		"maxFiles": 1000
	}`)

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/**"}, cfg.Include)
	assert.Equal(t, []string{"**/*.gen.go"}, cfg.Exclude)
	assert.False(t, cfg.RespectGitignore)
	assert.Equal(t, int64(512*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, 1000, cfg.MaxFiles)
}

func TestParse_UnderscoreKeysPreserved(t *testing.T) {
	data := []byte(`{"_comment": "globs use ** syntax", "maxFiles": 10}`)

	cfg, err := Parse(data)
	require.NoError(t, err)
	require.Contains(t, cfg.Annotations, "_comment")
	assert.JSONEq(t, `"globs use ** syntax"`, string(cfg.Annotations["_comment"]))
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte(`{"maxfiles": 10}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestParse_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad size unit", `{"maxFileSize": "1GB"}`},
		{"bad size shape", `{"maxFileSize": "MB1"}`},
		{"zero maxFiles", `{"maxFiles": 0}`},
		{"negative maxFiles", `{"maxFiles": -5}`},
		{"include not array", `{"include": "src/**"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bogus": 1}`), 0o644))

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, 50000, cfg.MaxFiles)
}

func TestSaveLoad_RoundTripIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Parse([]byte(`{"_note": "keep", "maxFileSize": "2MB", "maxFiles": 123, "respectGitignore": true}`))
	require.NoError(t, err)

	require.NoError(t, Save(path, cfg))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Save(path, reloaded))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(second), `"_note"`)
}
