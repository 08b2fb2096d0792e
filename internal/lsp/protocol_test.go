package lsp

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestFilePathToURI_URIToFilePath_RoundTrip(t *testing.T) {
	paths := []string{
		"/repo/main.go",
		"/repo/pkg/sub dir/file.go",
		"/repo/résumé.go",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			uri := FilePathToURI(p)
			if !strings.HasPrefix(string(uri), "file://") {
				t.Fatalf("FilePathToURI(%q) = %q, want file:// scheme", p, uri)
			}

			back := URIToFilePath(uri)
			if back != filepath.Clean(p) {
				t.Fatalf("round trip: FilePathToURI(%q) -> URIToFilePath() = %q, want %q", p, back, filepath.Clean(p))
			}
		})
	}
}

func TestFilePathToURI_RelativeBecomesAbsolute(t *testing.T) {
	uri := FilePathToURI("relative/path.go")
	abs, err := filepath.Abs("relative/path.go")
	if err != nil {
		t.Fatal(err)
	}
	back := URIToFilePath(uri)
	if back != abs {
		t.Fatalf("URIToFilePath(FilePathToURI(relative)) = %q, want absolute path %q", back, abs)
	}
}

func TestFilePathToURI_Empty(t *testing.T) {
	if got := FilePathToURI(""); got != "" {
		t.Errorf("FilePathToURI(\"\") = %q, want empty", got)
	}
}

func TestURIToFilePath_NonFileScheme(t *testing.T) {
	uri := DocumentURI("https://example.com/foo")
	if got := URIToFilePath(uri); got != string(uri) {
		t.Errorf("URIToFilePath(non-file URI) = %q, want passthrough %q", got, uri)
	}
}

func TestURIToFilePath_Empty(t *testing.T) {
	if got := URIToFilePath(""); got != "" {
		t.Errorf("URIToFilePath(\"\") = %q, want empty", got)
	}
}
