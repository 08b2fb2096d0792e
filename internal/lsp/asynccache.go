package lsp

import (
	"sync"
	"time"

	"github.com/dshills/lspproxy/internal/applog"
)

// SaveFunc persists data under key; AsyncCachePersister calls it off the
// caller's goroutine once the debounce interval elapses.
type SaveFunc func(key string, data any) error

type pendingWrite struct {
	data      any
	save      SaveFunc
	scheduled time.Time
}

// AsyncCachePersister batches and debounces cache writes so that frequent
// symbol-cache updates don't each trigger a blocking disk write. Translated
// from the original's daemon thread + threading.Event into a goroutine
// driven by a ticker and a done channel.
type AsyncCachePersister struct {
	mu              sync.Mutex
	debounceInterval time.Duration
	enabled         bool
	pending         map[string]pendingWrite
	log             *applog.Logger

	flushRequested chan struct{}
	done           chan struct{}
	stopped        chan struct{}
	stopOnce       sync.Once
}

// AsyncCacheOption configures an AsyncCachePersister at construction.
type AsyncCacheOption func(*AsyncCachePersister)

// WithAsyncLogger attaches a logger.
func WithAsyncLogger(l *applog.Logger) AsyncCacheOption {
	return func(p *AsyncCachePersister) { p.log = l }
}

// NewAsyncCachePersister creates a persister with the given debounce
// interval. When enabled is false, ScheduleWrite performs a synchronous
// save instead of deferring.
func NewAsyncCachePersister(debounceInterval time.Duration, enabled bool, opts ...AsyncCacheOption) *AsyncCachePersister {
	p := &AsyncCachePersister{
		debounceInterval: debounceInterval,
		enabled:          enabled,
		pending:          make(map[string]pendingWrite),
		log:              applog.NullLogger,
		flushRequested:   make(chan struct{}, 1),
		done:             make(chan struct{}),
		stopped:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.enabled {
		go p.workerLoop()
	} else {
		close(p.stopped)
	}
	return p
}

func (p *AsyncCachePersister) workerLoop() {
	defer close(p.stopped)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-p.flushRequested:
			p.executePending(true)
		case <-ticker.C:
			p.executePending(false)
		}
	}
}

func (p *AsyncCachePersister) executePending(force bool) {
	now := time.Now()

	type job struct {
		key       string
		data      any
		save      SaveFunc
		scheduled time.Time
	}
	var jobs []job

	p.mu.Lock()
	for key, w := range p.pending {
		if force || now.Sub(w.scheduled) >= p.debounceInterval {
			jobs = append(jobs, job{key, w.data, w.save, w.scheduled})
		}
	}
	p.mu.Unlock()

	// An entry stays in pending until its save has returned, so FlushAll
	// does not report a drained queue while a write is still running. An
	// entry rescheduled during the save is kept for the next pass.
	for _, j := range jobs {
		if err := j.save(j.key, j.data); err != nil {
			p.log.Warn("async cache write failed for %s: %v", j.key, err)
		} else {
			p.log.Debug("async cache write completed: %s", j.key)
		}
		p.mu.Lock()
		if w, ok := p.pending[j.key]; ok && w.scheduled.Equal(j.scheduled) {
			delete(p.pending, j.key)
		}
		p.mu.Unlock()
	}
}

// ScheduleWrite schedules data to be persisted via save under key. Repeated
// calls for the same key before it's flushed coalesce into one write of the
// latest data. If the persister is disabled, save runs synchronously.
func (p *AsyncCachePersister) ScheduleWrite(key string, data any, save SaveFunc) {
	if !p.enabled {
		if err := save(key, data); err != nil {
			p.log.Warn("synchronous cache write failed for %s: %v", key, err)
		}
		return
	}

	p.mu.Lock()
	p.pending[key] = pendingWrite{data: data, save: save, scheduled: time.Now()}
	p.mu.Unlock()
}

// FlushAll forces all pending writes to execute now, waiting up to timeout
// for the worker to drain the queue. Returns false if the timeout elapsed
// with writes still pending.
func (p *AsyncCachePersister) FlushAll(timeout time.Duration) bool {
	if !p.enabled {
		return true
	}

	select {
	case p.flushRequested <- struct{}{}:
	default:
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		remaining := len(p.pending)
		p.mu.Unlock()
		if remaining == 0 {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.mu.Lock()
	remaining := len(p.pending)
	p.mu.Unlock()
	if remaining > 0 {
		p.log.Warn("flush timeout: %d pending writes not completed", remaining)
	}
	return remaining == 0
}

// Shutdown flushes pending writes and stops the background worker.
func (p *AsyncCachePersister) Shutdown(timeout time.Duration) {
	if !p.enabled {
		return
	}

	p.FlushAll(timeout / 2)

	p.stopOnce.Do(func() { close(p.done) })

	select {
	case <-p.stopped:
	case <-time.After(timeout / 2):
		p.log.Warn("AsyncCachePersister worker did not terminate in time")
	}
}

// PendingCount returns the number of writes waiting to be executed.
func (p *AsyncCachePersister) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// IsEnabled reports whether this persister defers writes asynchronously.
func (p *AsyncCachePersister) IsEnabled() bool {
	return p.enabled
}
