package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path. Within one window:
// CREATE+MODIFY stays CREATE, CREATE+DELETE cancels out, MODIFY+DELETE
// becomes DELETE, DELETE+CREATE becomes MODIFY.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]FileEvent
	firstOp map[string]Operation
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given coalescing window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		firstOp: make(map[string]Operation),
		output:  make(chan []FileEvent, 10),
	}
}

// Add queues an event for coalescing.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	path := event.Path
	if first, ok := d.firstOp[path]; ok {
		switch {
		case first == OpCreate && event.Operation == OpModify:
			// Still a fresh file; keep the CREATE.
		case first == OpCreate && event.Operation == OpDelete:
			delete(d.pending, path)
			delete(d.firstOp, path)
		case first == OpDelete && event.Operation == OpCreate:
			event.Operation = OpModify
			d.pending[path] = event
		default:
			d.pending[path] = event
		}
	} else {
		d.pending[path] = event
		d.firstOp[path] = event.Operation
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	d.pending = make(map[string]FileEvent)
	d.firstOp = make(map[string]Operation)

	select {
	case d.output <- events:
	default:
	}
}

// Output returns batches of coalesced events.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// more than once.
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
