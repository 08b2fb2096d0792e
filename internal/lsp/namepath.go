package lsp

import (
	"strconv"
	"strings"
)

// NamePathComponent is one segment of a symbol's qualified name path, e.g.
// the "Bar" in "Foo/Bar[2]". OverloadIndex is -1 when the component carried
// no "[N]" suffix.
type NamePathComponent struct {
	Name          string
	OverloadIndex int
}

// NamePath is the full parent chain of a symbol, root first, the symbol
// itself last.
type NamePath []NamePathComponent

// String renders the path back to "/"-joined pattern form.
func (p NamePath) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		if c.OverloadIndex >= 0 {
			parts[i] = c.Name + "[" + strconv.Itoa(c.OverloadIndex) + "]"
		} else {
			parts[i] = c.Name
		}
	}
	return strings.Join(parts, "/")
}

// NamePattern is a parsed "find" lookup pattern (spec §3 "Name path").
type NamePattern struct {
	Absolute  bool
	Substring bool
	Parts     []NamePathComponent
}

// ParseNamePattern parses a name-path pattern. Leading "/" anchors the
// pattern at the symbol root (absolute); trailing "/" is permitted and
// ignored. A component may carry "[N]" to select an overload index.
func ParseNamePattern(pattern string, substring bool) NamePattern {
	p := NamePattern{Substring: substring}

	if strings.HasPrefix(pattern, "/") {
		p.Absolute = true
		pattern = pattern[1:]
	}
	pattern = strings.TrimSuffix(pattern, "/")

	if pattern == "" {
		return p
	}

	for _, raw := range strings.Split(pattern, "/") {
		p.Parts = append(p.Parts, parseComponent(raw))
	}
	return p
}

func parseComponent(raw string) NamePathComponent {
	c := NamePathComponent{OverloadIndex: -1}
	if idx := strings.IndexByte(raw, '['); idx >= 0 && strings.HasSuffix(raw, "]") {
		if n, err := strconv.Atoi(raw[idx+1 : len(raw)-1]); err == nil {
			c.OverloadIndex = n
			raw = raw[:idx]
		}
	}
	c.Name = raw
	return c
}

// Match reports whether path satisfies the pattern per spec §3/§4.2:
//   - Absolute patterns require the full parent chain to equal the pattern
//     (same length, every part equal).
//   - Relative patterns match as a suffix of the parent chain.
//   - Non-last components must match exactly; the last component matches
//     exactly, or as a substring of the candidate's last component when
//     Substring is set.
//   - An overload index on a pattern component filters candidates to that
//     index.
func (p NamePattern) Match(path NamePath) bool {
	if len(p.Parts) == 0 {
		return false
	}
	if p.Absolute {
		if len(path) != len(p.Parts) {
			return false
		}
		return p.matchFrom(path, 0)
	}

	if len(p.Parts) > len(path) {
		return false
	}
	start := len(path) - len(p.Parts)
	return p.matchFrom(path, start)
}

func (p NamePattern) matchFrom(path NamePath, offset int) bool {
	last := len(p.Parts) - 1
	for i, part := range p.Parts {
		candidate := path[offset+i]

		if part.OverloadIndex >= 0 && part.OverloadIndex != candidate.OverloadIndex {
			return false
		}

		if i == last && p.Substring {
			if !strings.Contains(candidate.Name, part.Name) {
				return false
			}
			continue
		}

		if candidate.Name != part.Name {
			return false
		}
	}
	return true
}
