package lsp

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/lspproxy/internal/applog"
)

// CompanionConfig describes one companion server embedded within a primary
// server's domain format: which repository-relative files it should index,
// its priority when more than one companion handles the same operation, and
// which operation categories it is responsible for.
type CompanionConfig struct {
	LanguageID string
	ServerConfig ServerConfig

	// FilePatterns are doublestar glob patterns (relative to the repository
	// root) identifying domain files this companion should index.
	FilePatterns []string

	// Priority breaks ties when more than one companion handles the same
	// operation category; highest priority wins.
	Priority int

	HandlesDefinitions bool
	HandlesReferences  bool
	HandlesRename      bool
}

// handles reports whether this companion is registered for operation.
func (c CompanionConfig) handles(operation string) bool {
	switch operation {
	case "definitions":
		return c.HandlesDefinitions
	case "references":
		return c.HandlesReferences
	case "rename":
		return c.HandlesRename
	default:
		return false
	}
}

// indexedFile tracks one file opened on a companion purely for cross-file
// indexing, so it can be released again without disturbing files the caller
// opened directly.
type indexedFile struct {
	companion *Server
	relPath   string
}

// DomainReferenceFunc supplies references the primary server can resolve
// itself, outside of any companion (spec §4.4 "domain-specific references").
// The default CompanionServer has none.
type DomainReferenceFunc func(ctx context.Context, relPath string, pos Position) ([]Location, error)

// CompanionServer orchestrates a primary server for a hybrid file format
// (one embedding segments of another language) together with one or more
// companion servers that resolve definitions, references, and renames for
// those embedded segments. It indexes domain files on the companions so
// cross-file references resolve, dispatches each operation to the
// highest-priority companion registered for it, and merges companion and
// primary results.
type CompanionServer struct {
	mu sync.Mutex

	primary         *Server
	domainExtension string

	configs    map[string]CompanionConfig
	companions map[string]*Server

	indexed      bool
	indexedFiles []indexedFile

	domainRefs DomainReferenceFunc
	log        *applog.Logger
}

// CompanionOption configures a CompanionServer at construction.
type CompanionOption func(*CompanionServer)

// WithCompanionLogger attaches a logger.
func WithCompanionLogger(l *applog.Logger) CompanionOption {
	return func(c *CompanionServer) { c.log = l }
}

// WithDomainReferenceFunc supplies a hook returning primary-computed
// references to merge with companion-reported ones.
func WithDomainReferenceFunc(fn DomainReferenceFunc) CompanionOption {
	return func(c *CompanionServer) { c.domainRefs = fn }
}

// NewCompanionServer creates an orchestrator for primary, wiring in the
// companion configurations. Companions are not started until Start is
// called.
func NewCompanionServer(primary *Server, domainExtension string, configs []CompanionConfig, opts ...CompanionOption) *CompanionServer {
	c := &CompanionServer{
		primary:         primary,
		domainExtension: domainExtension,
		configs:         make(map[string]CompanionConfig, len(configs)),
		companions:      make(map[string]*Server, len(configs)),
		log:             applog.NullLogger,
	}
	for _, cfg := range configs {
		c.configs[cfg.LanguageID] = cfg
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts the primary server followed by every companion server. A
// companion that fails to start fails the whole orchestrator start; any
// companions already started are stopped before the error is returned.
func (c *CompanionServer) Start(ctx context.Context, folders []WorkspaceFolder) error {
	if err := c.primary.Start(ctx, folders); err != nil {
		return fmt.Errorf("companion: primary start: %w", err)
	}

	var started []string
	for langID, cfg := range c.configs {
		c.log.Info("starting companion server for %s", langID)

		companion := NewServer(cfg.ServerConfig, langID,
			WithServerRepoRoot(c.primary.repoRoot),
			WithServerIgnorePredicate(c.primary.isIgnored),
			WithServerLogger(c.log.WithComponent("companion").WithField("language", langID)),
		)

		if err := companion.Start(ctx, folders); err != nil {
			for _, done := range started {
				if cs := c.companions[done]; cs != nil {
					shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
					cs.Shutdown(shutdownCtx)
					cancel()
				}
			}
			return fmt.Errorf("companion: start %s: %w", langID, err)
		}

		c.mu.Lock()
		c.companions[langID] = companion
		c.mu.Unlock()
		started = append(started, langID)
	}

	return nil
}

// Stop releases indexed files and stops every companion server, then the
// primary. Failures stopping individual companions are logged and do not
// block stopping the rest.
func (c *CompanionServer) Stop(ctx context.Context) error {
	c.cleanupIndexedFiles(ctx)

	c.mu.Lock()
	companions := make(map[string]*Server, len(c.companions))
	for k, v := range c.companions {
		companions[k] = v
	}
	c.companions = make(map[string]*Server)
	c.mu.Unlock()

	for langID, companion := range companions {
		if err := companion.Shutdown(ctx); err != nil {
			c.log.Error("stopping companion server %s: %v", langID, err)
		}
	}

	return c.primary.Shutdown(ctx)
}

// findCompanionForOperation returns the highest-priority companion
// registered to handle operation, or nil if none is.
func (c *CompanionServer) findCompanionForOperation(operation string) *Server {
	c.mu.Lock()
	defer c.mu.Unlock()

	type candidate struct {
		priority int
		langID   string
	}
	var candidates []candidate
	for langID, cfg := range c.configs {
		if cfg.handles(operation) {
			candidates = append(candidates, candidate{cfg.Priority, langID})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].priority > candidates[j].priority })
	return c.companions[candidates[0].langID]
}

// findAllDomainFiles walks the repository for files matching the primary's
// domain extension, skipping ignored paths.
func (c *CompanionServer) findAllDomainFiles() ([]string, error) {
	var files []string
	root := c.primary.repoRoot

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && c.primary.isIgnored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != c.domainExtension {
			return nil
		}
		if c.primary.isIgnored(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ensureDomainFilesIndexed opens every domain file matching a companion's
// file patterns on that companion, so the companion can resolve references
// into files it was never directly asked to open. Indexing runs once per
// orchestrator lifetime; individual file failures are logged and skipped.
func (c *CompanionServer) ensureDomainFilesIndexed(ctx context.Context) {
	c.mu.Lock()
	if c.indexed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	domainFiles, err := c.findAllDomainFiles()
	if err != nil {
		c.log.Warn("indexing domain files: %v", err)
		return
	}
	c.log.Debug("indexing %d domain files on companion servers", len(domainFiles))

	c.mu.Lock()
	defer c.mu.Unlock()

	for langID, cfg := range c.configs {
		companion := c.companions[langID]
		if companion == nil {
			continue
		}
		for _, domainFile := range domainFiles {
			if !matchesAnyPattern(cfg.FilePatterns, domainFile) {
				continue
			}
			if _, err := companion.OpenFile(ctx, domainFile); err != nil {
				c.log.Debug("failed to index %s on %s server: %v", domainFile, langID, err)
				continue
			}
			c.indexedFiles = append(c.indexedFiles, indexedFile{companion: companion, relPath: domainFile})
		}
	}
	c.indexed = true
	c.log.Debug("domain file indexing complete")
}

func matchesAnyPattern(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// cleanupIndexedFiles releases every file opened purely for indexing.
func (c *CompanionServer) cleanupIndexedFiles(ctx context.Context) {
	c.mu.Lock()
	files := c.indexedFiles
	c.indexedFiles = nil
	c.indexed = false
	c.mu.Unlock()

	if len(files) == 0 {
		return
	}
	c.log.Debug("cleaning up %d indexed files", len(files))

	for _, f := range files {
		if err := f.companion.ReleaseFile(ctx, f.relPath); err != nil {
			c.log.Error("cleaning up indexed file %s: %v", f.relPath, err)
		}
	}
}

// Definition delegates to the highest-priority companion handling
// definitions, falling back to the primary server. When the companion
// reports more than one candidate, the primary's LanguagePolicy picks a
// preferred definition and a single-element slice is returned.
func (c *CompanionServer) Definition(ctx context.Context, relPath string, pos Position) ([]Location, error) {
	companion := c.findCompanionForOperation("definitions")
	if companion == nil {
		return c.primary.Definition(ctx, relPath, pos)
	}

	if _, err := companion.OpenFile(ctx, relPath); err != nil {
		return nil, err
	}
	defer companion.ReleaseFile(ctx, relPath)

	defs, err := companion.Definition(ctx, relPath, pos)
	if err != nil {
		return nil, err
	}
	if len(defs) > 1 {
		return []Location{c.primary.policy.PreferredDefinition(defs)}, nil
	}
	return defs, nil
}

// References merges companion-reported and primary-computed references for
// the symbol at pos in relPath, deduplicated by (URI, start line, start
// character). Triggers domain-file indexing on first call.
func (c *CompanionServer) References(ctx context.Context, relPath string, pos Position, includeDecl bool) ([]Location, error) {
	c.ensureDomainFilesIndexed(ctx)

	var companionRefs []Location
	if companion := c.findCompanionForOperation("references"); companion != nil {
		if _, err := companion.OpenFile(ctx, relPath); err != nil {
			return nil, err
		}
		refs, err := companion.References(ctx, relPath, pos, true)
		companion.ReleaseFile(ctx, relPath)
		if err != nil {
			c.log.Debug("companion references for %s: %v", relPath, err)
		} else {
			companionRefs = refs
		}
	}

	var domainRefs []Location
	if c.domainRefs != nil {
		refs, err := c.domainRefs(ctx, relPath, pos)
		if err != nil {
			c.log.Debug("domain references for %s: %v", relPath, err)
		} else {
			domainRefs = refs
		}
	}

	return mergeReferences(companionRefs, domainRefs), nil
}

// mergeReferences concatenates companionRefs and domainRefs, preserving
// order, and drops later entries whose (URI, start line, start character)
// triple was already seen.
func mergeReferences(companionRefs, domainRefs []Location) []Location {
	seen := make(map[string]struct{}, len(companionRefs)+len(domainRefs))
	result := make([]Location, 0, len(companionRefs)+len(domainRefs))

	for _, refs := range [][]Location{companionRefs, domainRefs} {
		for _, ref := range refs {
			key := fmt.Sprintf("%s:%d:%d", ref.URI, ref.Range.Start.Line, ref.Range.Start.Character)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, ref)
		}
	}
	return result
}

// RenameSymbolEdit delegates to the highest-priority companion handling
// rename, falling back to the primary server.
func (c *CompanionServer) RenameSymbolEdit(ctx context.Context, relPath string, pos Position, newName string) (*WorkspaceEdit, error) {
	companion := c.findCompanionForOperation("rename")
	if companion == nil {
		return c.primary.RenameSymbolEdit(ctx, relPath, pos, newName)
	}

	if _, err := companion.OpenFile(ctx, relPath); err != nil {
		return nil, err
	}
	defer companion.ReleaseFile(ctx, relPath)

	return companion.RenameSymbolEdit(ctx, relPath, pos, newName)
}

// Primary returns the orchestrated primary server.
func (c *CompanionServer) Primary() *Server { return c.primary }

// Companion returns the companion server registered for languageID, or nil.
func (c *CompanionServer) Companion(languageID string) *Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.companions[languageID]
}
