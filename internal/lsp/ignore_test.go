package lsp

import "testing"

func TestIgnorePatterns_SimpleExtension(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPattern("*.log")

	if !ip.Match("app.log", false) {
		t.Error("app.log should be ignored")
	}
	if !ip.Match("nested/deep/app.log", false) {
		t.Error("nested/deep/app.log should be ignored")
	}
	if ip.Match("app.txt", false) {
		t.Error("app.txt should not be ignored")
	}
}

func TestIgnorePatterns_RootedDirectory(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPattern("/build/")

	if !ip.Match("build", true) {
		t.Error("root-level build dir should be ignored")
	}
	if ip.Match("sub/build", true) {
		t.Error("/build/ is rooted: only the top-level build dir should match")
	}
}

func TestIgnorePatterns_DoubleStarAnyDepth(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPattern("**/node_modules/**")

	if !ip.Match("node_modules/react/index.js", false) {
		t.Error("top-level node_modules contents should be ignored")
	}
	if !ip.Match("pkg/ui/node_modules/react/index.js", false) {
		t.Error("nested node_modules contents should be ignored")
	}
}

func TestIgnorePatterns_Negation(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPatterns([]string{"*.log", "!important.log"})

	if !ip.Match("debug.log", false) {
		t.Error("debug.log should be ignored")
	}
	if ip.Match("important.log", false) {
		t.Error("important.log should be un-ignored by the negated pattern")
	}
}

func TestIgnorePatterns_LastMatchWins(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPatterns([]string{"!keep.log", "*.log"})

	// *.log comes after the negation, so it wins per gitignore semantics.
	if !ip.Match("keep.log", false) {
		t.Error("later pattern should override the earlier negation")
	}
}

func TestIgnorePatterns_DirOnly(t *testing.T) {
	ip := NewIgnorePatterns()
	ip.AddPattern("build/")

	if ip.Match("build", false) {
		t.Error("dir-only pattern should not match a file named build")
	}
	if !ip.Match("build", true) {
		t.Error("dir-only pattern should match a directory named build")
	}
}

func TestDefaultIgnorePatterns_CoverCommonDirectories(t *testing.T) {
	ip := NewDefaultIgnorePatterns()

	for _, p := range []string{".git", "node_modules", "vendor"} {
		if !ip.Match(p, true) {
			t.Errorf("default patterns should ignore %q", p)
		}
	}
	if ip.Match("main.go", false) {
		t.Error("default patterns should not ignore ordinary source files")
	}
}
