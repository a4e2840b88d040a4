package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/locusmcp/locus/internal/errors"
	"github.com/locusmcp/locus/internal/fingerprint"
	"github.com/locusmcp/locus/internal/paths"
	"github.com/locusmcp/locus/internal/watcher"
)

// SweepInterval is how often the integrity sweep reconciles the index
// against the filesystem to heal missed watcher events.
const SweepInterval = 24 * time.Hour

// watchLoop owns the filesystem watcher and the drain/sweep goroutine.
type watchLoop struct {
	w      *watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
}

func (wl *watchLoop) active() bool {
	if wl == nil {
		return false
	}
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return wl.running
}

// StartWatcher begins watching the project tree. Debounced events feed the
// dirty queue; the queue is drained under the indexing lock once events go
// quiet, and the integrity sweep runs on a timer as the safety net.
func (e *Engine) StartWatcher(ctx context.Context) error {
	if e.watch.active() {
		return nil
	}

	w, err := watcher.New(e.projectPath, watcher.DefaultStability)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	wl := &watchLoop{w: w, cancel: cancel, done: make(chan struct{}), running: true}
	e.watch = wl

	if err := w.Start(ctx); err != nil {
		cancel()
		wl.running = false
		return err
	}

	go e.watchRun(ctx, wl)
	return nil
}

// StopWatcher stops the watcher loop if running.
func (e *Engine) StopWatcher() {
	wl := e.watch
	if wl == nil {
		return
	}
	wl.mu.Lock()
	if !wl.running {
		wl.mu.Unlock()
		return
	}
	wl.running = false
	wl.mu.Unlock()

	wl.cancel()
	_ = wl.w.Stop()
	<-wl.done
}

func (e *Engine) watchRun(ctx context.Context, wl *watchLoop) {
	defer close(wl.done)

	sweep := time.NewTicker(SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-wl.w.Events():
			if !ok {
				return
			}
			e.enqueue(batch)
			if err := e.DrainDirty(ctx); err != nil {
				if errors.HasCode(err, errors.CodeBusy) {
					continue // entries stay queued; next batch retries
				}
				slog.Warn("dirty drain failed", slog.String("error", err.Error()))
			}
		case err, ok := <-wl.w.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		case <-sweep.C:
			if err := e.IntegritySweep(ctx); err != nil {
				slog.Warn("integrity sweep failed", slog.String("error", err.Error()))
			}
			if err := e.DrainDirty(ctx); err != nil && !errors.HasCode(err, errors.CodeBusy) {
				slog.Warn("dirty drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// enqueue feeds a debounced event batch into the dirty queue.
func (e *Engine) enqueue(batch []watcher.Event) {
	for _, ev := range batch {
		switch ev.Op {
		case watcher.OpUnlink:
			e.queue.MarkDeleted(ev.Path)
		default:
			e.queue.Add(ev.Path)
		}
	}
	if err := e.queue.Save(); err != nil {
		slog.Warn("dirty queue save failed", slog.String("error", err.Error()))
	}
}

// DrainDirty processes the dirty queue under the indexing lock. Fails fast
// with BUSY when another mutating operation is running; queued entries
// survive for the next drain.
func (e *Engine) DrainDirty(ctx context.Context) error {
	if e.queue.Len() == 0 {
		return nil
	}
	if err := e.ilock.Acquire("incremental_update"); err != nil {
		return err
	}
	defer e.ilock.Release()

	changed := false

	for _, rel := range e.queue.Tombstoned() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.codePipe.RemoveFile(rel); err != nil {
			return err
		}
		if _, err := e.docsPipe.RemoveFile(rel); err != nil {
			return err
		}
		e.queue.Remove(rel)
		changed = true
	}

	for _, rel := range e.queue.Pending() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.drainOne(ctx, rel); err != nil {
			slog.Warn("dirty entry skipped",
				slog.String("path", rel), slog.String("error", err.Error()))
		}
		e.queue.Remove(rel)
		changed = true
	}

	if err := e.queue.Save(); err != nil {
		return err
	}
	if changed {
		e.metadata.CompleteRun(false)
		if err := e.refreshStats(); err == nil {
			_ = e.saveMetadata()
		}
	}
	return nil
}

// drainOne applies one pending dirty entry.
func (e *Engine) drainOne(ctx context.Context, rel string) error {
	pipe := e.codePipe
	if isDocPath(rel) {
		pipe = e.docsPipe
	}

	abs, err := paths.SafeJoin(e.projectPath, rel)
	if err != nil {
		return err
	}

	info, statErr := os.Lstat(abs)
	if statErr != nil {
		// Vanished since the event fired: treat as removal.
		_, err := pipe.RemoveFile(rel)
		return err
	}

	if v := e.filter.Decide(rel, info); !v.Index {
		if _, tracked := pipe.Ledger().Get(rel); tracked {
			_, err := pipe.RemoveFile(rel)
			return err
		}
		return nil
	}

	_, _, err = pipe.IndexFile(ctx, rel)
	return err
}

// IntegritySweep recomputes the delta between the filesystem and both
// ledgers and enqueues every discrepancy. It does not index; the next
// drain does the work under the lock.
func (e *Engine) IntegritySweep(ctx context.Context) error {
	code, docs, err := e.enumerate(ctx, nil)
	if err != nil {
		return err
	}

	targets := []struct {
		current []string
		ledger  map[string]string
	}{
		{code, e.codePipe.Ledger().Snapshot()},
		{docs, e.docsPipe.Ledger().Snapshot()},
	}

	enqueued := 0
	for _, t := range targets {
		delta, err := fingerprint.Compute(ctx, e.projectPath, t.current, t.ledger)
		if err != nil {
			return err
		}
		for _, rel := range append(delta.Added, delta.Modified...) {
			e.queue.Add(rel)
			enqueued++
		}
		for _, rel := range delta.Removed {
			e.queue.MarkDeleted(rel)
			enqueued++
		}
	}

	if enqueued > 0 {
		slog.Info("integrity sweep enqueued discrepancies", slog.Int("count", enqueued))
	}
	return e.queue.Save()
}
