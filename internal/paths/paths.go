// Package paths resolves the on-disk layout of the global index root and
// enforces path safety for joins and deletions.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/locusmcp/locus/internal/errors"
)

// File names inside a per-project index directory.
const (
	CodeStoreDir         = "index.lancedb"
	DocsStoreDir         = "docs.lancedb"
	FingerprintsFile     = "fingerprints.json"
	DocsFingerprintsFile = "docs-fingerprints.json"
	DirtyFile            = "dirty-files.json"
	ConfigFile           = "config.json"
	MetadataFile         = "metadata.json"
)

// GlobalRoot returns the global index root, <home>/.mcp/search.
func GlobalRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(errors.CodePermissionDenied,
			"Your home directory could not be determined.", err)
	}
	return filepath.Join(home, ".mcp", "search"), nil
}

// ProjectHash returns the hex digest that names a project's index directory.
// The project path is canonicalized first so the same project always maps to
// the same directory.
func ProjectHash(projectPath string) (string, error) {
	canonical, err := Canonicalize(projectPath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// IndexDir returns the per-project index directory under the global root.
func IndexDir(projectPath string) (string, error) {
	root, err := GlobalRoot()
	if err != nil {
		return "", err
	}
	hash, err := ProjectHash(projectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, hash), nil
}

// Canonicalize resolves a project path to an absolute, symlink-free form.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(errors.CodeFileNotFound,
			"The project path could not be resolved.", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(errors.CodeFileNotFound,
				"The project directory does not exist.", err)
		}
		return "", errors.Wrap(errors.CodePermissionDenied,
			"The project path could not be resolved.", err)
	}
	return resolved, nil
}

// SafeJoin joins rel onto root and rejects any result that escapes root.
// rel must be a relative, forward-slash path.
func SafeJoin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", errors.New(errors.CodePermissionDenied,
			"Absolute paths are not allowed here.").
			WithDetail("path %q is absolute", rel)
	}
	joined := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", errors.New(errors.CodePermissionDenied,
			"The path escapes the project directory.").
			WithDetail("path %q resolves outside %q", rel, root)
	}
	return joined, nil
}

// EnsureUnderRoot verifies that target lives strictly under the global index
// root. Delete operations must call this before removing anything; violations
// never fall back.
func EnsureUnderRoot(target string) error {
	root, err := GlobalRoot()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return errors.Wrap(errors.CodePermissionDenied,
			"The delete target could not be resolved.", err)
	}
	cleanRoot := filepath.Clean(root)
	if !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return errors.New(errors.CodePermissionDenied,
			"Refusing to delete a path outside the index storage root.").
			WithDetail("target %q is not under %q", abs, cleanRoot)
	}
	return nil
}

// Normalize converts a filesystem path to the project-relative, forward-slash
// form used everywhere in the index.
func Normalize(rel string) string {
	return filepath.ToSlash(filepath.Clean(rel))
}
