// Package watcher turns filesystem change events into debounced add,
// change, and unlink notifications feeding the dirty queue. Hard-denied
// subtrees are pre-filtered before events reach the debouncer.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/locusmcp/locus/internal/policy"
)

// Op is the kind of a debounced file event.
type Op int

const (
	// OpAdd indicates a new file appeared.
	OpAdd Op = iota
	// OpChange indicates an existing file was modified.
	OpChange
	// OpUnlink indicates a file was removed.
	OpUnlink
)

// String returns a human-readable operation name.
func (op Op) String() string {
	switch op {
	case OpAdd:
		return "ADD"
	case OpChange:
		return "CHANGE"
	case OpUnlink:
		return "UNLINK"
	default:
		return "UNKNOWN"
	}
}

// Event is one debounced file event with a project-relative path.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// DefaultStability is the debounce window: a path must be quiet this long
// before its event is emitted.
const DefaultStability = 500 * time.Millisecond

// Watcher watches a project tree recursively.
type Watcher struct {
	root      string
	debouncer *Debouncer

	fsw    *fsnotify.Watcher
	errs   chan error
	stopCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a watcher for the project root with the given debounce
// window (zero selects DefaultStability).
func New(root string, stability time.Duration) (*Watcher, error) {
	if stability <= 0 {
		stability = DefaultStability
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:      root,
		debouncer: NewDebouncer(stability),
		fsw:       fsw,
		errs:      make(chan error, 16),
		stopCh:    make(chan struct{}),
	}, nil
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []Event {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Start begins watching. It returns after registering the tree; event
// processing continues until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsw.Close()
}

// Active reports whether the watcher is running.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				slog.Warn("watcher error dropped", slog.String("error", err.Error()))
			}
		}
	}
}

// addRecursive registers root and every non-denied directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, the sweep will catch up
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." && policy.HardDeniedDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			slog.Debug("could not watch directory",
				slog.String("path", path), slog.String("error", addErr.Error()))
		}
		return nil
	})
}

// handle converts one raw fsnotify event into a debounced event.
func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || policy.HardDenied(rel) {
		return
	}

	info, statErr := os.Lstat(event.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case event.Op&fsnotify.Create != 0:
		if isDir {
			// New directories must be registered for events below them.
			_ = w.addRecursive(event.Name)
			return
		}
		w.debouncer.Add(Event{Path: rel, Op: OpAdd, Timestamp: time.Now()})
	case event.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		w.debouncer.Add(Event{Path: rel, Op: OpChange, Timestamp: time.Now()})
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		w.debouncer.Add(Event{Path: rel, Op: OpUnlink, Timestamp: time.Now()})
	}
}
