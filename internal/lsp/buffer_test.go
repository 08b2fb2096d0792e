package lsp

import (
	"testing"
	"time"
)

func TestFileBuffer_RefCountOpenCloseParity(t *testing.T) {
	b := NewFileBuffer("/repo/main.go", "go", []byte("package main\n"), time.Now())

	if got := b.RefCount(); got != 0 {
		t.Fatalf("RefCount() = %d, want 0 before any Acquire", got)
	}

	if got := b.Acquire(); got != 1 {
		t.Fatalf("Acquire() = %d, want 1 (primary server opens)", got)
	}
	if got := b.Acquire(); got != 2 {
		t.Fatalf("Acquire() = %d, want 2 (companion server opens)", got)
	}
	if got := b.RefCount(); got != 2 {
		t.Fatalf("RefCount() = %d, want 2", got)
	}

	if got := b.Release(); got != 1 {
		t.Fatalf("Release() = %d, want 1", got)
	}
	if got := b.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1 after one Release", got)
	}

	if got := b.Release(); got != 0 {
		t.Fatalf("Release() = %d, want 0", got)
	}
	if got := b.RefCount(); got != 0 {
		t.Fatalf("RefCount() = %d, want 0 after parity Release", got)
	}
}

func TestFileBuffer_ReleaseNeverGoesNegative(t *testing.T) {
	b := NewFileBuffer("/repo/main.go", "go", []byte("package main\n"), time.Now())

	if got := b.Release(); got != 0 {
		t.Fatalf("Release() on unopened buffer = %d, want 0", got)
	}
	if got := b.Release(); got != 0 {
		t.Fatalf("Release() on unopened buffer = %d, want 0", got)
	}
}

func TestFileBuffer_ApplyChangeBumpsVersion(t *testing.T) {
	b := NewFileBuffer("/repo/main.go", "go", []byte("package main\n"), time.Now())

	if b.Version() != 1 {
		t.Fatalf("initial Version() = %d, want 1", b.Version())
	}

	v := b.ApplyChange("package main\n\nfunc main() {}\n")
	if v != 2 {
		t.Fatalf("ApplyChange() returned version %d, want 2", v)
	}
	if b.Content() != "package main\n\nfunc main() {}\n" {
		t.Fatalf("Content() = %q", b.Content())
	}
}

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Encoding
	}{
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), EncodingUTF8BOM},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0}, EncodingUTF16LE},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'h'}, EncodingUTF16BE},
		{"plain utf8", []byte("hello, 世界"), EncodingUTF8},
		{"invalid utf8", []byte{0xFF, 0xFE - 1, 0x80}, EncodingLatin1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectEncoding(tc.in); got != tc.want {
				t.Errorf("DetectEncoding(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDetectLineEnding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want LineEnding
	}{
		{"empty", "", LineEndingLF},
		{"lf only", "a\nb\nc\n", LineEndingLF},
		{"crlf only", "a\r\nb\r\nc\r\n", LineEndingCRLF},
		{"cr only", "a\rb\rc\r", LineEndingCR},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectLineEnding([]byte(tc.in)); got != tc.want {
				t.Errorf("DetectLineEnding(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
