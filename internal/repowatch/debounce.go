package repowatch

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid repeated events for the same path into one,
// delivered after delay has elapsed with no further activity on that path.
type Debouncer struct {
	inner *Watcher
	delay time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	events   chan Event
	errors   chan error
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

type pendingEvent struct {
	event Event
	timer *time.Timer
	ops   Op
}

// NewDebouncer wraps inner, coalescing events on the same path within delay
// of each other. delay <= 0 defaults to 100ms.
func NewDebouncer(inner *Watcher, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	d := &Debouncer{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 100),
		errors:  make(chan error, 100),
		closeCh: make(chan struct{}),
	}
	d.closedWg.Add(1)
	go d.processLoop()
	return d
}

// Events returns the debounced event channel.
func (d *Debouncer) Events() <-chan Event { return d.events }

// Errors returns the forwarded error channel.
func (d *Debouncer) Errors() <-chan error { return d.errors }

// Close stops the debouncer and the inner watcher.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeCh)
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	d.closedWg.Wait()
	close(d.events)
	close(d.errors)
	return d.inner.Close()
}

// PendingCount returns the number of events awaiting their debounce delay.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) processLoop() {
	defer d.closedWg.Done()
	for {
		select {
		case <-d.closeCh:
			return
		case ev, ok := <-d.inner.Events():
			if !ok {
				return
			}
			d.handleEvent(ev)
		case err, ok := <-d.inner.Errors():
			if !ok {
				return
			}
			d.forwardError(err)
		}
	}
}

func (d *Debouncer) handleEvent(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if p, exists := d.pending[event.Path]; exists {
		p.ops |= event.Op
		p.event.Op = p.ops
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(d.delay)
		return
	}

	p := &pendingEvent{event: event, ops: event.Op}
	p.timer = time.AfterFunc(d.delay, func() { d.fireEvent(event.Path) })
	d.pending[event.Path] = p
}

func (d *Debouncer) fireEvent(path string) {
	d.mu.Lock()
	p, exists := d.pending[path]
	if !exists {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	event := p.event
	d.mu.Unlock()

	select {
	case d.events <- event:
	case <-d.closeCh:
	default:
	}
}

func (d *Debouncer) forwardError(err error) {
	select {
	case d.errors <- err:
	case <-d.closeCh:
	default:
	}
}
