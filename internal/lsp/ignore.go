package lsp

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnorePatterns manages gitignore-style rules used to route files away from
// language servers and to filter companion-server references. It supports:
//   - *.log               match files ending in .log
//   - /build/             match build directory at repository root
//   - **/node_modules/**  match node_modules anywhere, any depth
//   - !important.log      negate (don't ignore) important.log
type IgnorePatterns struct {
	mu       sync.RWMutex
	patterns []ignorePattern
}

// ignorePattern represents a single ignore pattern.
type ignorePattern struct {
	original string
	pattern  string
	negation bool
	dirOnly  bool
	rooted   bool
}

// NewIgnorePatterns creates an empty pattern matcher.
func NewIgnorePatterns() *IgnorePatterns {
	return &IgnorePatterns{patterns: make([]ignorePattern, 0)}
}

// AddPattern adds one gitignore-syntax pattern.
func (ip *IgnorePatterns) AddPattern(pattern string) error {
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}

	pattern = strings.TrimRight(pattern, " \t")
	if pattern == "" {
		return nil
	}

	p := ignorePattern{original: pattern}

	if strings.HasPrefix(pattern, "!") {
		p.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		p.rooted = true
		pattern = pattern[1:]
	}

	p.pattern = pattern

	ip.mu.Lock()
	ip.patterns = append(ip.patterns, p)
	ip.mu.Unlock()

	return nil
}

// AddPatterns adds multiple patterns in order.
func (ip *IgnorePatterns) AddPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if err := ip.AddPattern(pattern); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile loads patterns from a file such as .gitignore, one per line.
func (ip *IgnorePatterns) AddFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if err := ip.AddPattern(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Match returns true if path should be ignored.
func (ip *IgnorePatterns) Match(path string, isDir bool) bool {
	return ip.MatchRelative(path, "", isDir)
}

// MatchRelative checks if path, resolved relative to basePath, should be
// ignored. Later patterns override earlier ones, matching gitignore's
// last-match-wins semantics.
func (ip *IgnorePatterns) MatchRelative(path, basePath string, isDir bool) bool {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	relPath := path
	if basePath != "" {
		if rel, err := filepath.Rel(basePath, path); err == nil {
			relPath = rel
		}
	}
	relPath = filepath.ToSlash(relPath)

	ignored := false
	for _, p := range ip.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if ip.matchPattern(p, relPath) {
			ignored = !p.negation
		}
	}
	return ignored
}

// matchPattern checks a single pattern against relPath.
func (ip *IgnorePatterns) matchPattern(p ignorePattern, relPath string) bool {
	pattern := p.pattern

	if strings.Contains(pattern, "**") {
		return ip.matchDoubleGlob(pattern, relPath)
	}

	if p.rooted {
		if strings.Contains(pattern, "/") {
			return ip.matchGlob(pattern, relPath)
		}
		parts := strings.SplitN(relPath, "/", 2)
		return ip.matchGlob(pattern, parts[0])
	}

	if ip.matchGlob(pattern, relPath) {
		return true
	}

	base := filepath.Base(relPath)
	if !strings.Contains(pattern, "/") {
		return ip.matchGlob(pattern, base)
	}

	parts := strings.Split(relPath, "/")
	for i := range parts {
		suffix := strings.Join(parts[i:], "/")
		if ip.matchGlob(pattern, suffix) {
			return true
		}
	}
	return false
}

// matchGlob matches a single-level glob pattern (no **) against a path.
func (ip *IgnorePatterns) matchGlob(pattern, path string) bool {
	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
	}
	return false
}

// matchDoubleGlob handles ** patterns by delegating to doublestar, which
// understands ** as "zero or more path components" directly, replacing the
// teacher's hand-rolled prefix/suffix splitting for this one case.
func (ip *IgnorePatterns) matchDoubleGlob(pattern, path string) bool {
	if ok, _ := doublestar.Match(pattern, path); ok {
		return true
	}
	// A bare **/name pattern (no trailing /** or /*) should also match the
	// name as a path component anywhere, not just as a full-path suffix.
	if strings.HasPrefix(pattern, "**/") && !strings.Contains(strings.TrimPrefix(pattern, "**/"), "/") {
		name := strings.TrimPrefix(pattern, "**/")
		for _, part := range strings.Split(path, "/") {
			if ip.matchGlob(name, part) {
				return true
			}
		}
	}
	return false
}

// Clear removes all patterns.
func (ip *IgnorePatterns) Clear() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.patterns = ip.patterns[:0]
}

// Count returns the number of patterns registered.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.patterns)
}

// Patterns returns the original pattern strings, in registration order.
func (ip *IgnorePatterns) Patterns() []string {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	patterns := make([]string, len(ip.patterns))
	for i, p := range ip.patterns {
		patterns[i] = p.original
	}
	return patterns
}

// DefaultIgnorePatterns are applied to every repository unless overridden.
var DefaultIgnorePatterns = []string{
	".git/", ".svn/", ".hg/",
	"node_modules/", "vendor/", ".venv/", "venv/", "__pycache__/", "*.pyc",
	"dist/", "build/", "out/", "target/", "bin/", "obj/",
	".idea/", ".vscode/", ".vs/", "*.swp", "*.swo", "*~",
	".DS_Store", "Thumbs.db",
	"*.log", "tmp/", "temp/",
}

// NewDefaultIgnorePatterns builds an IgnorePatterns seeded with DefaultIgnorePatterns.
func NewDefaultIgnorePatterns() *IgnorePatterns {
	ip := NewIgnorePatterns()
	_ = ip.AddPatterns(DefaultIgnorePatterns)
	return ip
}
