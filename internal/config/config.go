// Package config loads and saves the per-project index configuration.
//
// The on-disk format is config.json inside the project's index directory.
// Underscore-prefixed keys are preserved verbatim so users can document
// their config inline; any other unknown key rejects the file and the
// loader falls back to defaults with a warning.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Defaults per the storage contract.
const (
	DefaultMaxFileSize = "1MB"
	DefaultMaxFiles    = 50000
)

// maxFileSizePattern validates the maxFileSize value: digits plus KB or MB.
var maxFileSizePattern = regexp.MustCompile(`^\d+(KB|MB)$`)

// Config is the per-project index configuration.
type Config struct {
	// Include are globs that mark files as explicitly included. They are
	// checked after the deny list, exclude, gitignore, binary and size
	// gates, so they override none of them.
	Include []string

	// Exclude are globs that skip files before gitignore is consulted.
	Exclude []string

	// RespectGitignore merges .gitignore patterns into the policy filter.
	RespectGitignore bool

	// MaxFileSize is the per-file size ceiling, e.g. "1MB" or "512KB".
	MaxFileSize string

	// MaxFiles triggers the confirmation gate on full indexing.
	MaxFiles int

	// Annotations holds underscore-prefixed keys verbatim. They carry no
	// behavior; they exist so the file can document itself.
	Annotations map[string]json.RawMessage
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Include:          nil,
		Exclude:          nil,
		RespectGitignore: true,
		MaxFileSize:      DefaultMaxFileSize,
		MaxFiles:         DefaultMaxFiles,
	}
}

// MaxFileSizeBytes converts MaxFileSize to bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	n, unit, ok := splitSize(c.MaxFileSize)
	if !ok {
		n, unit, _ = splitSize(DefaultMaxFileSize)
	}
	switch unit {
	case "KB":
		return n * 1024
	default:
		return n * 1024 * 1024
	}
}

func splitSize(s string) (int64, string, bool) {
	if !maxFileSizePattern.MatchString(s) {
		return 0, "", false
	}
	unit := s[len(s)-2:]
	n, err := strconv.ParseInt(s[:len(s)-2], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, unit, true
}

// knownKeys are the recognized top-level config.json keys.
var knownKeys = map[string]bool{
	"include":          true,
	"exclude":          true,
	"respectGitignore": true,
	"maxFileSize":      true,
	"maxFiles":         true,
}

// Load reads config.json from path. A missing file yields defaults. A file
// with unknown (non-underscore) keys or invalid values is rejected: the
// loader logs a warning and returns defaults plus the validation error so
// callers can surface it if they want.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		slog.Warn("invalid config.json, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return Default(), err
	}
	return cfg, nil
}

// Parse decodes and validates a config document.
func Parse(data []byte) (*Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	for key, value := range raw {
		if strings.HasPrefix(key, "_") {
			if cfg.Annotations == nil {
				cfg.Annotations = make(map[string]json.RawMessage)
			}
			cfg.Annotations[key] = value
			continue
		}
		if !knownKeys[key] {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
	}

	if v, ok := raw["include"]; ok {
		if err := json.Unmarshal(v, &cfg.Include); err != nil {
			return nil, fmt.Errorf("include must be an array of globs: %w", err)
		}
	}
	if v, ok := raw["exclude"]; ok {
		if err := json.Unmarshal(v, &cfg.Exclude); err != nil {
			return nil, fmt.Errorf("exclude must be an array of globs: %w", err)
		}
	}
	if v, ok := raw["respectGitignore"]; ok {
		if err := json.Unmarshal(v, &cfg.RespectGitignore); err != nil {
			return nil, fmt.Errorf("respectGitignore must be a boolean: %w", err)
		}
	}
	if v, ok := raw["maxFileSize"]; ok {
		if err := json.Unmarshal(v, &cfg.MaxFileSize); err != nil {
			return nil, fmt.Errorf("maxFileSize must be a string: %w", err)
		}
		if !maxFileSizePattern.MatchString(cfg.MaxFileSize) {
			return nil, fmt.Errorf("maxFileSize %q must match ^\\d+(KB|MB)$", cfg.MaxFileSize)
		}
	}
	if v, ok := raw["maxFiles"]; ok {
		if err := json.Unmarshal(v, &cfg.MaxFiles); err != nil {
			return nil, fmt.Errorf("maxFiles must be an integer: %w", err)
		}
		if cfg.MaxFiles <= 0 {
			return nil, fmt.Errorf("maxFiles must be positive, got %d", cfg.MaxFiles)
		}
	}

	return cfg, nil
}

// Save writes the config atomically, preserving annotation keys verbatim.
func Save(path string, cfg *Config) error {
	doc := make(map[string]json.RawMessage)
	for k, v := range cfg.Annotations {
		doc[k] = v
	}
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		doc[key] = b
		return nil
	}
	if cfg.Include != nil {
		if err := put("include", cfg.Include); err != nil {
			return err
		}
	}
	if cfg.Exclude != nil {
		if err := put("exclude", cfg.Exclude); err != nil {
			return err
		}
	}
	if err := put("respectGitignore", cfg.RespectGitignore); err != nil {
		return err
	}
	if err := put("maxFileSize", cfg.MaxFileSize); err != nil {
		return err
	}
	if err := put("maxFiles", cfg.MaxFiles); err != nil {
		return err
	}

	// Stable key order keeps reindex runs byte-identical for recognized keys.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	buf.WriteString("{\n")
	for i, k := range keys {
		kb, _ := json.Marshal(k)
		buf.WriteString("  ")
		buf.Write(kb)
		buf.WriteString(": ")
		buf.Write(doc[k])
		if i < len(keys)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}
