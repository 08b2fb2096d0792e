package lsp

import (
	"bytes"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Encoding identifies the on-disk byte encoding of a file buffer's content.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF8BOM Encoding = "utf-8-bom"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
	EncodingLatin1  Encoding = "iso-8859-1"
)

// LineEnding identifies the dominant line-ending style of a file's content.
type LineEnding string

const (
	LineEndingLF    LineEnding = "lf"
	LineEndingCRLF  LineEnding = "crlf"
	LineEndingCR    LineEnding = "cr"
	LineEndingMixed LineEnding = "mixed"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// FileBuffer is an in-memory, ref-counted view of one file opened against a
// language server. Multiple logical openers (the primary server and any
// number of companion servers indexing the same file as a domain file) can
// share a single buffer; the underlying didOpen/didClose notifications are
// only sent to the server on the 0→1 and 1→0 transitions of the ref count.
type FileBuffer struct {
	mu sync.Mutex

	path       string
	languageID string
	encoding   Encoding
	lineEnding LineEnding

	content []byte
	version int

	openedAt  time.Time
	refCount  int
	diskMTime time.Time
}

// NewFileBuffer constructs a buffer from disk content read at diskMTime.
// The encoding and line-ending style are auto-detected from content.
func NewFileBuffer(path, languageID string, content []byte, diskMTime time.Time) *FileBuffer {
	enc := DetectEncoding(content)
	return &FileBuffer{
		path:       path,
		languageID: languageID,
		encoding:   enc,
		lineEnding: DetectLineEnding(content),
		content:    decodeToUTF8(content, enc),
		version:    1,
		openedAt:   time.Now(),
		diskMTime:  diskMTime,
	}
}

// Acquire increments the ref count and returns the new count. The caller
// that takes it from 0 to 1 is responsible for sending didOpen.
func (b *FileBuffer) Acquire() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refCount++
	return b.refCount
}

// Release decrements the ref count and returns the new count. The caller
// that takes it from 1 to 0 is responsible for sending didClose.
func (b *FileBuffer) Release() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refCount > 0 {
		b.refCount--
	}
	return b.refCount
}

// RefCount returns the current number of openers sharing this buffer.
func (b *FileBuffer) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refCount
}

// Path returns the buffer's file path.
func (b *FileBuffer) Path() string { return b.path }

// LanguageID returns the buffer's detected or assigned language id.
func (b *FileBuffer) LanguageID() string { return b.languageID }

// Version returns the current LSP document version.
func (b *FileBuffer) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Content returns a copy of the buffer's current UTF-8 content.
func (b *FileBuffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.content)
}

// ApplyChange replaces the entire buffer content (full-document sync) and
// bumps the version. Incremental sync is not modeled: callers that need it
// compute the full resulting text themselves before calling this.
func (b *FileBuffer) ApplyChange(newContent string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = []byte(newContent)
	b.version++
	return b.version
}

// DiskModTime returns the modification time recorded when this buffer was
// last synchronized with disk.
func (b *FileBuffer) DiskModTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.diskMTime
}

// MarkSynced records a new disk mod time after a reload or save.
func (b *FileBuffer) MarkSynced(diskMTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diskMTime = diskMTime
}

// DetectEncoding inspects content for a BOM, then validates UTF-8, falling
// back to Latin-1 which accepts any byte sequence.
func DetectEncoding(content []byte) Encoding {
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		return EncodingUTF8BOM
	case bytes.HasPrefix(content, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(content, bomUTF16BE):
		return EncodingUTF16BE
	case utf8.Valid(content):
		return EncodingUTF8
	default:
		return EncodingLatin1
	}
}

// DetectLineEnding finds the dominant newline style in content, reporting
// LineEndingMixed when more than one style appears with significant frequency.
func DetectLineEnding(content []byte) LineEnding {
	if len(content) == 0 {
		return LineEndingLF
	}

	var lf, crlf, cr int
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				crlf++
				i++
			} else {
				cr++
			}
		case '\n':
			lf++
		}
	}

	total := lf + crlf + cr
	if total == 0 {
		return LineEndingLF
	}

	threshold := total / 10
	if threshold < 1 {
		threshold = 1
	}
	styles := 0
	if lf >= threshold {
		styles++
	}
	if crlf >= threshold {
		styles++
	}
	if cr >= threshold {
		styles++
	}
	if styles > 1 {
		return LineEndingMixed
	}

	if crlf >= lf && crlf >= cr {
		return LineEndingCRLF
	}
	if cr > lf {
		return LineEndingCR
	}
	return LineEndingLF
}

// decodeToUTF8 strips a detected BOM and transcodes UTF-16 content to UTF-8.
// Anything already UTF-8 or Latin-1-fallback is passed through unchanged:
// Latin-1 is a last resort for undecodable bytes, not a encoding we round-trip.
func decodeToUTF8(content []byte, enc Encoding) []byte {
	switch enc {
	case EncodingUTF8BOM:
		return content[len(bomUTF8):]
	case EncodingUTF16LE:
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(content)
		if err != nil {
			return content
		}
		return decoded
	case EncodingUTF16BE:
		decoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(content)
		if err != nil {
			return content
		}
		return decoded
	default:
		return content
	}
}
