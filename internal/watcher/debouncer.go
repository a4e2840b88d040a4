package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so the pipeline is not thrashed by
// editors that write, truncate, and rename in quick succession. Events for
// the same path within the stability window merge:
//   - ADD + CHANGE = ADD (still a new file)
//   - ADD + UNLINK = nothing (never really existed)
//   - CHANGE + UNLINK = UNLINK
//   - UNLINK + ADD = CHANGE (replaced in place)
type Debouncer struct {
	window  time.Duration
	output  chan []Event
	stopCh  chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event    Event
	firstOp  Op
	lastSeen time.Time
}

// NewDebouncer creates a debouncer with the given stability window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 10),
		stopCh:  make(chan struct{}),
	}
}

// Output returns the channel of coalesced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Add queues an event, coalescing with any pending event for the path.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	if existing, ok := d.pending[event.Path]; ok {
		merged := coalesce(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
			existing.lastSeen = now
		}
	} else {
		d.pending[event.Path] = &pendingEvent{
			event:    event,
			firstOp:  event.Op,
			lastSeen: now,
		}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into a pending one. Nil means the events
// cancelled out.
func coalesce(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpAdd:
		switch next.Op {
		case OpChange:
			return &existing.event
		case OpUnlink:
			return nil
		}
	case OpChange:
		if next.Op == OpUnlink {
			return &next
		}
		return &existing.event
	case OpUnlink:
		if next.Op == OpAdd {
			replaced := next
			replaced.Op = OpChange
			return &replaced
		}
	}
	return &next
}

// scheduleFlush (re)arms the flush timer. Callers hold d.mu.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits every pending event that has been stable for the window.
func (d *Debouncer) flush() {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	// Timer precision can fire a hair early; allow a small slack so the
	// triggering event is not postponed a whole extra window.
	cutoff := d.window - 5*time.Millisecond
	now := time.Now()
	var ready []Event
	for path, p := range d.pending {
		if now.Sub(p.lastSeen) >= cutoff {
			ready = append(ready, p.event)
			delete(d.pending, path)
		}
	}
	if len(d.pending) > 0 {
		d.scheduleFlush()
	}
	d.mu.Unlock()

	if len(ready) == 0 {
		return
	}
	select {
	case d.output <- ready:
	case <-d.stopCh:
	}
}

// Stop stops the debouncer and discards pending events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
}
