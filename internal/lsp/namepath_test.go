package lsp

import "testing"

func path(components ...string) NamePath {
	p := make(NamePath, len(components))
	for i, c := range components {
		p[i] = NamePathComponent{Name: c, OverloadIndex: -1}
	}
	return p
}

func TestParseNamePattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		substring bool
		want      NamePattern
	}{
		{
			name:    "relative single",
			pattern: "Foo",
			want:    NamePattern{Parts: []NamePathComponent{{Name: "Foo", OverloadIndex: -1}}},
		},
		{
			name:    "absolute nested",
			pattern: "/Foo/Bar",
			want: NamePattern{
				Absolute: true,
				Parts:    []NamePathComponent{{Name: "Foo", OverloadIndex: -1}, {Name: "Bar", OverloadIndex: -1}},
			},
		},
		{
			name:    "trailing slash ignored",
			pattern: "Foo/Bar/",
			want: NamePattern{
				Parts: []NamePathComponent{{Name: "Foo", OverloadIndex: -1}, {Name: "Bar", OverloadIndex: -1}},
			},
		},
		{
			name:    "overload index",
			pattern: "Foo[2]",
			want:    NamePattern{Parts: []NamePathComponent{{Name: "Foo", OverloadIndex: 2}}},
		},
		{
			name:      "substring flag carried through",
			pattern:   "Foo",
			substring: true,
			want:      NamePattern{Substring: true, Parts: []NamePathComponent{{Name: "Foo", OverloadIndex: -1}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseNamePattern(tc.pattern, tc.substring)
			if got.Absolute != tc.want.Absolute || got.Substring != tc.want.Substring {
				t.Fatalf("ParseNamePattern(%q) = %+v, want %+v", tc.pattern, got, tc.want)
			}
			if len(got.Parts) != len(tc.want.Parts) {
				t.Fatalf("ParseNamePattern(%q).Parts = %+v, want %+v", tc.pattern, got.Parts, tc.want.Parts)
			}
			for i := range got.Parts {
				if got.Parts[i] != tc.want.Parts[i] {
					t.Fatalf("ParseNamePattern(%q).Parts[%d] = %+v, want %+v", tc.pattern, i, got.Parts[i], tc.want.Parts[i])
				}
			}
		})
	}
}

func TestNamePattern_Match_Relative(t *testing.T) {
	candidate := path("Outer", "Inner", "Method")

	if !ParseNamePattern("Method", false).Match(candidate) {
		t.Error("relative suffix of length 1 should match")
	}
	if !ParseNamePattern("Inner/Method", false).Match(candidate) {
		t.Error("relative suffix of length 2 should match")
	}
	if ParseNamePattern("Outer/Method", false).Match(candidate) {
		t.Error("non-contiguous suffix should not match")
	}
	if ParseNamePattern("Method/Extra", false).Match(candidate) {
		t.Error("pattern longer than path should not match")
	}
}

func TestNamePattern_Match_Absolute(t *testing.T) {
	candidate := path("Outer", "Inner", "Method")

	if !ParseNamePattern("/Outer/Inner/Method", false).Match(candidate) {
		t.Error("absolute pattern matching full chain should match")
	}
	if ParseNamePattern("/Inner/Method", false).Match(candidate) {
		t.Error("absolute pattern must match from the root, not a suffix")
	}
}

func TestNamePattern_Match_Substring(t *testing.T) {
	candidate := path("Outer", "HandleRequest")

	if ParseNamePattern("Handle", false).Match(candidate) {
		t.Error("exact (non-substring) mode should require full equality on the last component")
	}
	if !ParseNamePattern("Handle", true).Match(candidate) {
		t.Error("substring mode should match a substring of the last component")
	}
	if ParseNamePattern("Outer", true).Match(path("Outer", "HandleRequest")) {
		t.Error("substring matching only applies to the last component, not intermediate ones")
	}
}

func TestNamePattern_Match_OverloadIndex(t *testing.T) {
	withOverload := NamePath{
		{Name: "Foo", OverloadIndex: -1},
		{Name: "Bar", OverloadIndex: 2},
	}

	if !ParseNamePattern("Foo/Bar[2]", false).Match(withOverload) {
		t.Error("matching overload index should match")
	}
	if ParseNamePattern("Foo/Bar[0]", false).Match(withOverload) {
		t.Error("mismatched overload index should not match")
	}
	if !ParseNamePattern("Foo/Bar", false).Match(withOverload) {
		t.Error("pattern without an overload index should match any index")
	}
}

func TestNamePattern_Match_EmptyPatternNeverMatches(t *testing.T) {
	if ParseNamePattern("", false).Match(path("Anything")) {
		t.Error("empty pattern should never match")
	}
}

func TestNamePath_String(t *testing.T) {
	p := NamePath{
		{Name: "Foo", OverloadIndex: -1},
		{Name: "Bar", OverloadIndex: 1},
	}
	if got := p.String(); got != "Foo/Bar[1]" {
		t.Errorf("String() = %q, want %q", got, "Foo/Bar[1]")
	}
}
