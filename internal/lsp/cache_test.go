package lsp

import (
	"bytes"
	"testing"
	"time"
)

func TestSymbolCache_GetMissAndHit(t *testing.T) {
	c := NewSymbolCache()

	if _, ok := c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h1"}); ok {
		t.Fatal("Get() on empty cache returned ok=true")
	}

	entry := CacheEntry{Symbols: []*Symbol{{Name: "Foo"}}, VersionStamp: "v1", Timestamp: time.Now()}
	key := CacheKey{Language: "go", Path: "a.go", ContentHash: "h1"}
	c.Put(key, entry)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get() after Put() returned ok=false")
	}
	if len(got.Symbols) != 1 || got.Symbols[0].Name != "Foo" {
		t.Fatalf("Get() returned %+v", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Stats() = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestSymbolCache_EvictsByMaxEntries(t *testing.T) {
	c := NewSymbolCache(WithMaxEntries(2))

	put := func(path string) {
		c.Put(CacheKey{Language: "go", Path: path, ContentHash: "h"}, CacheEntry{Symbols: []*Symbol{{Name: path}}})
	}

	put("a.go")
	put("b.go")
	put("c.go") // should evict a.go (least recently used)

	if stats := c.Stats(); stats.Entries != 2 {
		t.Fatalf("Entries = %d, want 2 (bounded by maxEntries)", stats.Entries)
	}

	if _, ok := c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h"}); ok {
		t.Error("a.go should have been evicted")
	}
	if _, ok := c.Get(CacheKey{Language: "go", Path: "b.go", ContentHash: "h"}); !ok {
		t.Error("b.go should still be cached")
	}
	if _, ok := c.Get(CacheKey{Language: "go", Path: "c.go", ContentHash: "h"}); !ok {
		t.Error("c.go should still be cached")
	}
}

func TestSymbolCache_RecentlyUsedSurvivesEviction(t *testing.T) {
	c := NewSymbolCache(WithMaxEntries(2))

	keyA := CacheKey{Language: "go", Path: "a.go", ContentHash: "h"}
	keyB := CacheKey{Language: "go", Path: "b.go", ContentHash: "h"}
	keyC := CacheKey{Language: "go", Path: "c.go", ContentHash: "h"}

	c.Put(keyA, CacheEntry{})
	c.Put(keyB, CacheEntry{})

	// Touch a.go, making b.go the least recently used.
	c.Get(keyA)
	c.Put(keyC, CacheEntry{})

	if _, ok := c.Get(keyB); ok {
		t.Error("b.go should have been evicted as the LRU entry")
	}
	if _, ok := c.Get(keyA); !ok {
		t.Error("a.go should survive: it was touched most recently before eviction")
	}
}

func TestSymbolCache_EvictsByMaxMemory(t *testing.T) {
	c := NewSymbolCache(WithMaxMemoryMB(0)) // force eviction on every insert above a few bytes

	big := make([]*Symbol, 0, 10)
	for i := 0; i < 10; i++ {
		big = append(big, &Symbol{Name: "Sym", Detail: string(bytes.Repeat([]byte("x"), 1024))})
	}
	c.Put(CacheKey{Language: "go", Path: "big.go", ContentHash: "h"}, CacheEntry{Symbols: big})

	stats := c.Stats()
	if stats.Entries != 0 {
		t.Fatalf("Entries = %d, want 0: a single entry larger than the memory bound must be evicted immediately", stats.Entries)
	}
}

func TestSymbolCache_InvalidateRemovesAllContentHashes(t *testing.T) {
	c := NewSymbolCache()

	c.Put(CacheKey{Language: "go", Path: "a.go", ContentHash: "h1"}, CacheEntry{})
	c.Put(CacheKey{Language: "go", Path: "a.go", ContentHash: "h2"}, CacheEntry{})
	c.Put(CacheKey{Language: "python", Path: "a.go", ContentHash: "h1"}, CacheEntry{})

	c.Invalidate("go", "a.go")

	if _, ok := c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h1"}); ok {
		t.Error("h1 entry should have been invalidated")
	}
	if _, ok := c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h2"}); ok {
		t.Error("h2 entry should have been invalidated")
	}
	if _, ok := c.Get(CacheKey{Language: "python", Path: "a.go", ContentHash: "h1"}); !ok {
		t.Error("other-language entry for the same path should be unaffected")
	}
}

func TestSymbolCache_ClearResetsOccupancyButNotCounters(t *testing.T) {
	c := NewSymbolCache()
	c.Put(CacheKey{Language: "go", Path: "a.go", ContentHash: "h"}, CacheEntry{})
	c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h"})

	c.Clear()

	if stats := c.Stats(); stats.Entries != 0 {
		t.Fatalf("Entries after Clear() = %d, want 0", stats.Entries)
	}
	if _, ok := c.Get(CacheKey{Language: "go", Path: "a.go", ContentHash: "h"}); ok {
		t.Error("Get() after Clear() should miss")
	}
}

func TestSaveLoadCacheFile_RoundTrip(t *testing.T) {
	data := map[CacheKey]CacheEntry{
		{Language: "go", Path: "a.go", ContentHash: "h1"}: {
			Symbols:      []*Symbol{{Name: "Foo", Kind: SymbolKindFunction}},
			VersionStamp: "v1",
			Timestamp:    time.Unix(1700000000, 0),
		},
	}

	var buf bytes.Buffer
	if err := SaveCacheFile(&buf, cacheMagicRaw, data); err != nil {
		t.Fatalf("SaveCacheFile() error = %v", err)
	}

	loaded, err := LoadCacheFile(&buf, cacheMagicRaw)
	if err != nil {
		t.Fatalf("LoadCacheFile() error = %v", err)
	}

	key := CacheKey{Language: "go", Path: "a.go", ContentHash: "h1"}
	entry, ok := loaded[key]
	if !ok {
		t.Fatalf("loaded map missing key %+v", key)
	}
	if entry.VersionStamp != "v1" {
		t.Errorf("VersionStamp = %q, want v1", entry.VersionStamp)
	}
	if len(entry.Symbols) != 1 || entry.Symbols[0].Name != "Foo" {
		t.Errorf("Symbols = %+v", entry.Symbols)
	}
}

func TestLoadCacheFile_WrongMagicIsFormatError(t *testing.T) {
	var buf bytes.Buffer
	if err := SaveCacheFile(&buf, cacheMagicRaw, nil); err != nil {
		t.Fatalf("SaveCacheFile() error = %v", err)
	}

	_, err := LoadCacheFile(&buf, cacheMagicProcessed)
	if err != ErrCacheFormat {
		t.Fatalf("LoadCacheFile() error = %v, want ErrCacheFormat", err)
	}
}

func TestLoadCacheFromPath_MissingFileIsNotAnError(t *testing.T) {
	data, err := LoadCacheFromPath("/nonexistent/path/does/not/exist.cache", cacheMagicRaw)
	if err != nil {
		t.Fatalf("LoadCacheFromPath() error = %v, want nil for missing file", err)
	}
	if len(data) != 0 {
		t.Fatalf("LoadCacheFromPath() = %v, want empty map", data)
	}
}
