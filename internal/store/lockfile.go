package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// staleLockAge is how old a lockfile must be before it is considered
// abandoned.
const staleLockAge = 5 * time.Minute

// RemoveStaleLocks sweeps lockfile candidates under dir and unlinks those
// older than the freshness threshold whose lock can actually be acquired
// (proving no live holder). There is an irreducible window between unlock
// and unlink; multi-writer is unsupported, so it is acceptable.
//
// Failures degrade to a no-op: an unremovable lockfile surfaces later as an
// open error with more context.
func RemoveStaleLocks(dir string) {
	candidates, err := filepath.Glob(filepath.Join(dir, "*.lock"))
	if err != nil {
		return
	}

	now := time.Now()
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < staleLockAge {
			continue
		}

		fl := flock.New(path)
		acquired, err := fl.TryLock()
		if err != nil || !acquired {
			continue
		}
		_ = fl.Unlock()
		if err := os.Remove(path); err == nil {
			slog.Info("removed stale lockfile", slog.String("path", path))
		}
	}
}
