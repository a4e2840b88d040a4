// Package policy decides, per path, whether a file belongs in the index.
//
// Evaluation order per file: hard deny, user exclude, gitignore, binary
// sniff, size ceiling, user include, default include. Symlinks are always
// rejected before any of these.
package policy

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/locusmcp/locus/internal/config"
	"github.com/locusmcp/locus/internal/gitignore"
)

// matcherCacheSize bounds the per-directory gitignore matcher cache.
const matcherCacheSize = 1000

// binarySniffBytes is how much of a file the binary sniff reads.
const binarySniffBytes = 8192

// Reason explains why a file was skipped (or indexed).
type Reason string

const (
	ReasonIndexed    Reason = "indexed"
	ReasonIncluded   Reason = "included"
	ReasonDenyList   Reason = "deny list"
	ReasonExcluded   Reason = "user exclude"
	ReasonGitignored Reason = "gitignored"
	ReasonBinary     Reason = "binary"
	ReasonTooLarge   Reason = "too large"
	ReasonSymlink    Reason = "symlink"
)

// Verdict is the outcome of a policy decision.
type Verdict struct {
	Index  bool
	Reason Reason
}

// Filter evaluates the indexing policy for one project root.
type Filter struct {
	root     string
	cfg      *config.Config
	matchers *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Filter rooted at the project directory.
func New(root string, cfg *config.Config) (*Filter, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, err
	}
	return &Filter{root: root, cfg: cfg, matchers: cache}, nil
}

// Decide evaluates the policy for a relative slash path with its stat info.
// The caller is responsible for passing Lstat info so symlinks are visible.
func (f *Filter) Decide(rel string, info fs.FileInfo) Verdict {
	if info != nil && info.Mode()&fs.ModeSymlink != 0 {
		return Verdict{Reason: ReasonSymlink}
	}
	if HardDenied(rel) {
		return Verdict{Reason: ReasonDenyList}
	}
	if matchesAny(rel, f.cfg.Exclude) {
		return Verdict{Reason: ReasonExcluded}
	}
	if f.cfg.RespectGitignore && f.isGitignored(rel, false) {
		return Verdict{Reason: ReasonGitignored}
	}
	if f.sniffBinary(rel) {
		return Verdict{Reason: ReasonBinary}
	}
	if info != nil && info.Size() > f.cfg.MaxFileSizeBytes() {
		return Verdict{Reason: ReasonTooLarge}
	}
	if matchesAny(rel, f.cfg.Include) {
		return Verdict{Index: true, Reason: ReasonIncluded}
	}
	return Verdict{Index: true, Reason: ReasonIndexed}
}

// SkipDir reports whether directory enumeration should prune this subtree.
func (f *Filter) SkipDir(rel string) bool {
	if HardDeniedDir(rel) {
		return true
	}
	if matchesAny(rel, f.cfg.Exclude) || matchesAny(rel+"/", f.cfg.Exclude) {
		return true
	}
	if f.cfg.RespectGitignore && f.isGitignored(rel, true) {
		return true
	}
	return false
}

// MaxFiles returns the configured full-index file ceiling.
func (f *Filter) MaxFiles() int {
	return f.cfg.MaxFiles
}

// isGitignored consults the .gitignore of every ancestor directory.
func (f *Filter) isGitignored(rel string, isDir bool) bool {
	dirs := ancestorDirs(rel)
	for _, dir := range dirs {
		m := f.matcherFor(dir)
		if m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// matcherFor loads and caches the gitignore matcher for one directory.
// Directories without a .gitignore cache an empty matcher.
func (f *Filter) matcherFor(dirRel string) *gitignore.Matcher {
	if m, ok := f.matchers.Get(dirRel); ok {
		return m
	}

	path := filepath.Join(f.root, filepath.FromSlash(dirRel), ".gitignore")
	m := gitignore.New()
	if _, err := os.Lstat(path); err == nil {
		_ = m.AddFromFile(path, dirRel)
	}
	if m.Len() == 0 {
		m = nil
	}
	f.matchers.Add(dirRel, m)
	return m
}

// InvalidateGitignore drops cached matchers after a .gitignore change.
func (f *Filter) InvalidateGitignore() {
	f.matchers.Purge()
}

// sniffBinary reads the head of the file and reports a NUL byte.
// Unreadable files are not classified as binary here; the hashing stage
// surfaces the read error with more context.
func (f *Filter) sniffBinary(rel string) bool {
	file, err := os.Open(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, binarySniffBytes)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

func matchesAny(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func ancestorDirs(rel string) []string {
	dirs := []string{""}
	if !strings.Contains(rel, "/") {
		return dirs
	}
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	return dirs
}
