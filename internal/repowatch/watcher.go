// Package repowatch watches a repository for file changes and turns raw
// fsnotify events into debounced, ignore-filtered notifications a Manager
// uses to invalidate stale symbol-cache entries. Companion domain-file
// indexing is not re-run on these events.
package repowatch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("repowatch: watcher is closed")
	ErrPathNotExist  = errors.New("repowatch: path does not exist")
)

// Op represents the type of file system operation.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) Has(o Op) bool { return op&o == o }

// Event represents a file system change event, already filtered against the
// repository's ignore predicate.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Stats reports watcher status for diagnostics.
type Stats struct {
	WatchedPaths  int
	PendingEvents int
	TotalEvents   int64
	Errors        int64
	LastError     error
	StartTime     time.Time
}

// IgnoreFunc reports whether a path should be excluded from watching and
// event delivery. repoRelPath is repository-root-relative.
type IgnoreFunc func(repoRelPath string, isDir bool) bool

// Watcher monitors a directory tree for changes.
type Watcher struct {
	mu sync.RWMutex

	fs *fsnotify.Watcher

	root       string
	ignore     IgnoreFunc
	bufferSize int

	paths map[string]bool

	events chan Event
	errors chan error

	startTime   time.Time
	totalEvents int64
	totalErrors int64
	lastError   error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// Option configures a Watcher at construction.
type Option func(*Watcher)

// WithIgnoreFunc sets the predicate used to exclude paths from watching and
// event delivery. The default excludes nothing.
func WithIgnoreFunc(f IgnoreFunc) Option {
	return func(w *Watcher) { w.ignore = f }
}

// WithBufferSize sets the event/error channel buffer size (default 100).
func WithBufferSize(n int) Option {
	return func(w *Watcher) { w.bufferSize = n }
}

// New creates a Watcher rooted at root. Call WatchRecursive to begin
// watching; the caller owns calling Close when done.
func New(root string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fs:         fsw,
		root:       absRoot,
		bufferSize: 100,
		paths:      make(map[string]bool),
		startTime:  time.Now(),
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.ignore == nil {
		w.ignore = func(string, bool) bool { return false }
	}

	w.events = make(chan Event, w.bufferSize)
	w.errors = make(chan error, w.bufferSize)

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// WatchRecursive watches root and every non-ignored subdirectory beneath it.
func (w *Watcher) WatchRecursive(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.watch(absRoot)
	}

	return filepath.WalkDir(absRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && w.ignore(rel, true) {
			return filepath.SkipDir
		}
		if watchErr := w.watch(p); watchErr != nil {
			w.recordError(watchErr)
		}
		return nil
	})
}

func (w *Watcher) watch(absPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[absPath] {
		return nil
	}
	if err := w.fs.Add(absPath); err != nil {
		return err
	}
	w.paths[absPath] = true
	return nil
}

// Events returns the channel of file change events. Closed when the watcher
// is closed.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of watcher errors. Closed when the watcher is
// closed.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return w.fs.Close()
}

// Stats returns a snapshot of watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.events),
		TotalEvents:   atomic.LoadInt64(&w.totalEvents),
		Errors:        atomic.LoadInt64(&w.totalErrors),
		LastError:     w.lastError,
		StartTime:     w.startTime,
	}
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, fsEvent.Name)
	if err != nil {
		rel = fsEvent.Name
	}
	isDir := false
	if info, statErr := os.Stat(fsEvent.Name); statErr == nil {
		isDir = info.IsDir()
	}
	if w.ignore(rel, isDir) {
		return
	}

	w.sendEvent(Event{Path: fsEvent.Name, Op: op, Timestamp: time.Now()})

	if op.Has(OpCreate) && isDir {
		_ = w.watch(fsEvent.Name)
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

func (w *Watcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		atomic.AddInt64(&w.totalEvents, 1)
	default:
		w.recordError(errors.New("repowatch: event channel full, dropping event"))
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) recordError(err error) {
	atomic.AddInt64(&w.totalErrors, 1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}
