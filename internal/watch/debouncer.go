package watch

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounceWindow is the quiet period before a burst of events flushes.
const DefaultDebounceWindow = time.Second

// Debouncer coalesces rapid file events so a save-storm triggers one sync
// instead of dozens. Events for the same path within the window merge:
//
//	CREATE + MODIFY = CREATE  (file is still new)
//	CREATE + DELETE = nothing (file never really existed)
//	MODIFY + DELETE = DELETE  (file is gone)
//	DELETE + CREATE = MODIFY  (file was replaced)
//
// A single timer per debouncer resets on every event; the batch flushes only
// after the window passes with no new activity.
type Debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	output  chan []Event
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Op
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration, logger *slog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 10),
	}
}

// Add records an event, coalescing it with any pending event for the same
// path, and resets the flush timer.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := coalesce(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges a new event into the pending one. Returns nil when the pair
// cancels out.
func coalesce(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		}
	case OpDelete:
		if next.Op == OpCreate {
			merged := next
			merged.Op = OpModify
			return &merged
		}
	}
	return &next
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- batch:
	default:
		d.logger.Warn("debouncer output full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call more
// than once.
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
	close(d.output)
}
