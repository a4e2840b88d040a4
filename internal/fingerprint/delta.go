package fingerprint

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/locusmcp/locus/internal/paths"
)

// HashBatchSize is how many files are hashed in parallel per batch.
const HashBatchSize = 50

// outcome is the per-path classification result.
type outcome struct {
	path   string
	class  int
	digest string
}

const (
	classAdded = iota
	classModified
	classUnchanged
	classSkipped
)

// Delta is the four-way classification of paths between the ledger and a
// snapshot of the filesystem. The sets are pairwise disjoint; every current
// path that is not skipped (symlinks, paths escaping the project root) lands
// in exactly one of Added, Modified, or Unchanged, and every ledger path not
// seen on disk, or skipped, lands in Removed.
type Delta struct {
	Added     []string
	Modified  []string
	Removed   []string
	Unchanged []string

	// Hashes holds the digest of every file hashed while classifying, so
	// the pipeline does not hash the same bytes twice.
	Hashes map[string]string
}

// Compute classifies current (relative slash paths under projectDir)
// against the stored snapshot.
//
// Symlinks are skipped; if the ledger tracked one, it becomes Removed.
// Unreadable files are classified Added and logged (EACCES/EPERM at warn,
// ENOENT at debug); the pipeline attempts a fresh hash at indexing time.
func Compute(ctx context.Context, projectDir string, current []string, snapshot map[string]string) (*Delta, error) {
	delta := &Delta{Hashes: make(map[string]string, len(current))}

	seen := make(map[string]bool, len(current))
	var mu sync.Mutex
	outcomes := make([]outcome, 0, len(current))

	for start := 0; start < len(current); start += HashBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + HashBatchSize
		if end > len(current) {
			end = len(current)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, rel := range current[start:end] {
			rel := rel
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				o := classify(projectDir, rel, snapshot)
				mu.Lock()
				outcomes = append(outcomes, o)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for _, o := range outcomes {
		seen[o.path] = true
		switch o.class {
		case classAdded:
			delta.Added = append(delta.Added, o.path)
		case classModified:
			delta.Modified = append(delta.Modified, o.path)
		case classUnchanged:
			delta.Unchanged = append(delta.Unchanged, o.path)
		case classSkipped:
			// Skipped paths count as removed when previously indexed.
			seen[o.path] = false
		}
		if o.digest != "" {
			delta.Hashes[o.path] = o.digest
		}
	}

	for p := range snapshot {
		if !seen[p] {
			delta.Removed = append(delta.Removed, p)
		}
	}

	sort.Strings(delta.Added)
	sort.Strings(delta.Modified)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Unchanged)
	return delta, nil
}

func classify(projectDir, rel string, snapshot map[string]string) outcome {
	o := outcome{path: rel, class: classAdded}

	abs, err := paths.SafeJoin(projectDir, rel)
	if err != nil {
		slog.Warn("path escapes project root, skipping",
			slog.String("path", rel))
		o.class = classSkipped
		return o
	}

	info, err := os.Lstat(abs)
	if err != nil {
		logReadError(rel, err)
		return o
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping symlink", slog.String("path", rel))
		o.class = classSkipped
		return o
	}

	digest, err := HashFile(abs)
	if err != nil {
		logReadError(rel, err)
		return o
	}
	o.digest = digest

	stored, tracked := snapshot[rel]
	switch {
	case !tracked:
		o.class = classAdded
	case stored == digest:
		o.class = classUnchanged
	default:
		o.class = classModified
	}
	return o
}

func logReadError(rel string, err error) {
	if os.IsNotExist(err) {
		slog.Debug("file vanished during delta",
			slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	slog.Warn("file unreadable during delta",
		slog.String("path", rel), slog.String("error", err.Error()))
}
