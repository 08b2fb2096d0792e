package lsp

import (
	"bufio"
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	cacheMagicRaw       = "LXCR" // lspproxy cache: raw document symbols
	cacheMagicProcessed = "LXCP" // lspproxy cache: processed (normalized) document symbols
	cacheVersion        = uint32(1)
	cacheMaxEntryBytes  = 16 << 20
)

// ErrCacheFormat is returned by LoadCacheFile when the file's magic bytes
// or version do not match what this build writes.
var ErrCacheFormat = errors.New("lsp: invalid or incompatible cache file format")

// CacheKey identifies one cache entry: a language, a repository-relative
// path, and a content hash of that file's current text.
type CacheKey struct {
	Language    string
	Path        string
	ContentHash string
}

// CacheEntry is what's stored per key: the normalized document symbol tree,
// a version stamp tying the entry to the tool/server build that produced
// it, and the time it was written.
type CacheEntry struct {
	Symbols      []*Symbol
	VersionStamp string
	Timestamp    time.Time
}

type cacheRecord struct {
	entry    CacheEntry
	element  *list.Element
	approxSz int
}

// SymbolCache is a thread-safe, bounded LRU cache of document symbol trees,
// keyed by (language, path, content hash). It tracks hit/miss statistics.
// Each key holds a single symbol tree: raw (as returned by the server) and
// processed (after LanguagePolicy normalization) document symbols are not
// kept apart, and the rawDirty/processedDirty flags are never set or read.
type SymbolCache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	usedBytes  int

	order   *list.List // front = most recently used
	entries map[CacheKey]*list.Element // element.Value is *listItem

	hits   uint64
	misses uint64

	rawDirty       bool
	processedDirty bool
}

// CacheOption configures a SymbolCache at construction.
type CacheOption func(*SymbolCache)

// WithMaxEntries bounds the entry count (default 2000).
func WithMaxEntries(n int) CacheOption {
	return func(c *SymbolCache) { c.maxEntries = n }
}

// WithMaxMemoryMB bounds approximate memory usage (default 200MB).
func WithMaxMemoryMB(mb int) CacheOption {
	return func(c *SymbolCache) { c.maxBytes = mb * 1024 * 1024 }
}

// NewSymbolCache builds an empty SymbolCache.
func NewSymbolCache(opts ...CacheOption) *SymbolCache {
	c := &SymbolCache{
		maxEntries: 2000,
		maxBytes:   200 * 1024 * 1024,
		order:      list.New(),
		entries:    make(map[CacheKey]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listItem struct {
	key    CacheKey
	record *cacheRecord
}

// Get returns the cached entry for key, if present, promoting it to most
// recently used.
func (c *SymbolCache) Get(key CacheKey) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return CacheEntry{}, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*listItem).record.entry, true
}

// Put stores entry under key, evicting least-recently-used entries if the
// entry-count or memory bound is exceeded.
func (c *SymbolCache) Put(key CacheKey, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sz := approxSymbolTreeSize(entry.Symbols) + len(key.Path) + len(key.ContentHash) + len(key.Language)

	if el, ok := c.entries[key]; ok {
		c.usedBytes -= el.Value.(*listItem).record.approxSz
		el.Value.(*listItem).record = &cacheRecord{entry: entry, approxSz: sz}
		c.usedBytes += sz
		c.order.MoveToFront(el)
	} else {
		item := &listItem{key: key, record: &cacheRecord{entry: entry, approxSz: sz}}
		el := c.order.PushFront(item)
		c.entries[key] = el
		c.usedBytes += sz
	}

	c.evictLocked()
}

func (c *SymbolCache) evictLocked() {
	for (len(c.entries) > c.maxEntries || c.usedBytes > c.maxBytes) && c.order.Len() > 0 {
		back := c.order.Back()
		item := back.Value.(*listItem)
		c.order.Remove(back)
		delete(c.entries, item.key)
		c.usedBytes -= item.record.approxSz
	}
}

// Invalidate removes every entry for path across all content hashes, used
// when a file's content changes underneath an open buffer.
func (c *SymbolCache) Invalidate(language, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.entries {
		if key.Language == language && key.Path == path {
			c.order.Remove(el)
			delete(c.entries, key)
			c.usedBytes -= el.Value.(*listItem).record.approxSz
		}
	}
}

// CacheStats reports point-in-time cache statistics.
type CacheStats struct {
	Entries    int
	MaxEntries int
	MemoryMB   float64
	MaxMemoryMB float64
	Hits       uint64
	Misses     uint64
	HitRate    float64
}

// Stats returns a snapshot of hit/miss counters and current occupancy.
func (c *SymbolCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Entries:     len(c.entries),
		MaxEntries:  c.maxEntries,
		MemoryMB:    float64(c.usedBytes) / (1024 * 1024),
		MaxMemoryMB: float64(c.maxBytes) / (1024 * 1024),
		Hits:        c.hits,
		Misses:      c.misses,
		HitRate:     hitRate,
	}
}

// Clear removes every entry.
func (c *SymbolCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[CacheKey]*list.Element)
	c.usedBytes = 0
}

// Snapshot returns a copy of all entries, for persistence.
func (c *SymbolCache) Snapshot() map[CacheKey]CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[CacheKey]CacheEntry, len(c.entries))
	for key, el := range c.entries {
		out[key] = el.Value.(*listItem).record.entry
	}
	return out
}

// LoadSnapshot replaces the cache contents with data, e.g. restored from disk.
func (c *SymbolCache) LoadSnapshot(data map[CacheKey]CacheEntry) {
	c.Clear()
	for key, entry := range data {
		c.Put(key, entry)
	}
}

func approxSymbolTreeSize(roots []*Symbol) int {
	size := 0
	for _, s := range roots {
		size += len(s.Name) + len(s.Detail) + 64
		if s.Body != nil {
			size += len(*s.Body)
		}
		size += approxSymbolTreeSize(s.Children)
	}
	return size
}

// SaveCacheFile writes a snapshot to w in the "raw" or "processed" binary
// framing (magic + version + length-prefixed entries), grounded on the
// teacher's index/persist.go format.
func SaveCacheFile(w io.Writer, magic string, data map[CacheKey]CacheEntry) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, cacheVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}

	for key, entry := range data {
		if err := writeCacheEntry(bw, key, entry); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// LoadCacheFile reads a snapshot previously written by SaveCacheFile.
func LoadCacheFile(r io.Reader, wantMagic string) (map[CacheKey]CacheEntry, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(wantMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != wantMagic {
		return nil, ErrCacheFormat
	}

	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != cacheVersion {
		return nil, ErrCacheFormat
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	out := make(map[CacheKey]CacheEntry, count)
	for i := uint32(0); i < count; i++ {
		key, entry, err := readCacheEntry(br)
		if err != nil {
			return nil, err
		}
		out[key] = entry
	}

	return out, nil
}

func writeCacheEntry(w *bufio.Writer, key CacheKey, entry CacheEntry) error {
	if err := writeCacheString(w, key.Language); err != nil {
		return err
	}
	if err := writeCacheString(w, key.Path); err != nil {
		return err
	}
	if err := writeCacheString(w, key.ContentHash); err != nil {
		return err
	}
	if err := writeCacheString(w, entry.VersionStamp); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.Timestamp.Unix()); err != nil {
		return err
	}

	payload, err := marshalSymbols(entry.Symbols)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readCacheEntry(r *bufio.Reader) (CacheKey, CacheEntry, error) {
	var key CacheKey
	var entry CacheEntry

	var err error
	if key.Language, err = readCacheString(r); err != nil {
		return key, entry, err
	}
	if key.Path, err = readCacheString(r); err != nil {
		return key, entry, err
	}
	if key.ContentHash, err = readCacheString(r); err != nil {
		return key, entry, err
	}
	if entry.VersionStamp, err = readCacheString(r); err != nil {
		return key, entry, err
	}

	var unixSec int64
	if err := binary.Read(r, binary.LittleEndian, &unixSec); err != nil {
		return key, entry, err
	}
	entry.Timestamp = time.Unix(unixSec, 0)

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return key, entry, err
	}
	if payloadLen > cacheMaxEntryBytes {
		return key, entry, ErrCacheFormat
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return key, entry, err
	}

	entry.Symbols, err = unmarshalSymbols(payload)
	return key, entry, err
}

func writeCacheString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readCacheString(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > cacheMaxEntryBytes {
		return "", ErrCacheFormat
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// SaveCacheToPath is a convenience wrapper creating/truncating the file at path.
func SaveCacheToPath(path, magic string, data map[CacheKey]CacheEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return SaveCacheFile(f, magic, data)
}

// LoadCacheFromPath is a convenience wrapper; a missing file is not an error
// and returns an empty map.
func LoadCacheFromPath(path, magic string) (map[CacheKey]CacheEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[CacheKey]CacheEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return LoadCacheFile(f, magic)
}
