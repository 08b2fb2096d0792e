package repowatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDebouncer_CoalescesRapidWrites(t *testing.T) {
	tmpDir := t.TempDir()
	inner, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := inner.WatchRecursive(tmpDir); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	d := NewDebouncer(inner, 150*time.Millisecond)
	defer d.Close()

	file := filepath.Join(tmpDir, "file.go")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(file, []byte("package main"), 0o644); err != nil {
			t.Fatalf("WriteFile error = %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev := <-d.Events():
		if ev.Path != file {
			t.Errorf("event path = %q, want %q", ev.Path, file)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced event")
	}

	select {
	case ev := <-d.Events():
		t.Errorf("expected rapid writes to coalesce into one event, got a second: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDebouncer_PendingCount(t *testing.T) {
	tmpDir := t.TempDir()
	inner, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := inner.WatchRecursive(tmpDir); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	d := NewDebouncer(inner, time.Second)
	defer d.Close()

	file := filepath.Join(tmpDir, "file.go")
	if err := os.WriteFile(file, []byte("package main"), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.PendingCount() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected a pending debounced event")
}
