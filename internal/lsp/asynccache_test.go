package lsp

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncCachePersister_Disabled_WritesSynchronously(t *testing.T) {
	p := NewAsyncCachePersister(time.Second, false)

	var called bool
	p.ScheduleWrite("k", "v", func(key string, data any) error {
		called = true
		if key != "k" || data != "v" {
			t.Errorf("save called with (%q, %v)", key, data)
		}
		return nil
	})

	if !called {
		t.Fatal("disabled persister should call save synchronously")
	}
	if p.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 for disabled persister", p.PendingCount())
	}
}

func TestAsyncCachePersister_Enabled_CoalescesRepeatedWrites(t *testing.T) {
	p := NewAsyncCachePersister(time.Hour, true)
	defer p.Shutdown(time.Second)

	var mu sync.Mutex
	calls := 0

	save := func(key string, data any) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	p.ScheduleWrite("k", "v1", save)
	p.ScheduleWrite("k", "v2", save)
	p.ScheduleWrite("k", "v3", save)

	if got := p.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1 (repeated writes to the same key coalesce)", got)
	}

	if ok := p.FlushAll(time.Second); !ok {
		t.Fatal("FlushAll() timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("save called %d times, want exactly 1", calls)
	}
}

func TestAsyncCachePersister_FlushAll_ExecutesPendingWrites(t *testing.T) {
	p := NewAsyncCachePersister(time.Hour, true)
	defer p.Shutdown(time.Second)

	done := make(chan struct{})
	p.ScheduleWrite("k1", 1, func(key string, data any) error {
		close(done)
		return nil
	})

	if !p.FlushAll(time.Second) {
		t.Fatal("FlushAll() timed out")
	}

	select {
	case <-done:
	default:
		t.Fatal("save was not executed by FlushAll()")
	}
}

func TestAsyncCachePersister_LogsSaveErrorsWithoutPanicking(t *testing.T) {
	p := NewAsyncCachePersister(time.Hour, true)
	defer p.Shutdown(time.Second)

	p.ScheduleWrite("k", "v", func(key string, data any) error {
		return errors.New("disk full")
	})

	if !p.FlushAll(time.Second) {
		t.Fatal("FlushAll() timed out")
	}
}

func TestAsyncCachePersister_ShutdownStopsWorker(t *testing.T) {
	p := NewAsyncCachePersister(time.Hour, true)
	if !p.IsEnabled() {
		t.Fatal("IsEnabled() = false, want true")
	}
	p.Shutdown(time.Second)

	// A write scheduled after shutdown is not a panic; the worker is simply
	// no longer draining, which FlushAll should reflect.
	p.ScheduleWrite("k", "v", func(key string, data any) error { return nil })
}
