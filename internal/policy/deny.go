package policy

import (
	"path"
	"strings"
)

// Hard deny list. These are enforced regardless of user configuration and
// even on single-file reindex requests.
var (
	// denyDirs are directory names skipped wherever they appear.
	denyDirs = map[string]bool{
		"node_modules": true,
		"vendor":       true,
		".venv":        true,
		"venv":         true,
		"virtualenv":   true,
		"bower_components": true,

		".git": true,
		".hg":  true,
		".svn": true,

		"dist":        true,
		"build":       true,
		"out":         true,
		"target":      true,
		"__pycache__": true,
		".gradle":     true,
		".cache":      true,
		".next":       true,
		".nuxt":       true,
		".turbo":      true,

		"coverage":    true,
		".nyc_output": true,

		".idea":    true,
		".vscode":  true,
		".DS_Store": true,
	}

	// denyFileGlobs match secret files, lockfiles, and logs by basename.
	denyFileGlobs = []string{
		".env",
		".env.*",
		"*.pem",
		"*.key",
		"*.p12",
		"*.pfx",
		"*.keystore",
		"package-lock.json",
		"yarn.lock",
		"pnpm-lock.yaml",
		"Cargo.lock",
		"poetry.lock",
		"Gemfile.lock",
		"composer.lock",
		"go.sum",
		"*.log",
		"*.lcov",
		".coverage",
	}
)

// HardDenied reports whether the relative slash path is on the hard deny
// list. Never overridable by user config.
func HardDenied(rel string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		if denyDirs[part] {
			return true
		}
	}
	last := parts[len(parts)-1]
	if denyDirs[last] {
		return true
	}

	for _, glob := range denyFileGlobs {
		if ok, _ := path.Match(glob, last); ok {
			return true
		}
	}
	return false
}

// HardDeniedDir reports whether a directory subtree should be pruned during
// enumeration and watching.
func HardDeniedDir(rel string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if denyDirs[part] {
			return true
		}
	}
	return false
}
