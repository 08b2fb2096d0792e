package repowatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer w.Close()

	if w.Events() == nil {
		t.Error("Events channel should not be nil")
	}
	if w.Errors() == nil {
		t.Error("Errors channel should not be nil")
	}
}

func TestWatcher_WatchRecursive(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "sub")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("MkdirAll error = %v", err)
	}

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer w.Close()

	if err := w.WatchRecursive(tmpDir); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	stats := w.Stats()
	if stats.WatchedPaths < 2 {
		t.Errorf("WatchedPaths = %d, want at least 2 (root + sub)", stats.WatchedPaths)
	}
}

func TestWatcher_IgnoresFilteredPaths(t *testing.T) {
	tmpDir := t.TempDir()
	ignoredDir := filepath.Join(tmpDir, "node_modules")
	if err := os.MkdirAll(ignoredDir, 0o755); err != nil {
		t.Fatalf("MkdirAll error = %v", err)
	}

	w, err := New(tmpDir, WithIgnoreFunc(func(relPath string, isDir bool) bool {
		return filepath.Base(relPath) == "node_modules"
	}))
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer w.Close()

	if err := w.WatchRecursive(tmpDir); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	for _, p := range collectWatchedPaths(w) {
		if filepath.Base(p) == "node_modules" {
			t.Errorf("ignored directory %q should not be watched", p)
		}
	}
}

func TestWatcher_DetectsWrite(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer w.Close()

	if err := w.WatchRecursive(tmpDir); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	file := filepath.Join(tmpDir, "file.go")
	if err := os.WriteFile(file, []byte("package main"), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != file {
			t.Errorf("event path = %q, want %q", ev.Path, file)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write event")
	}
}

func collectWatchedPaths(w *Watcher) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}
