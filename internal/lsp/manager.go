package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dshills/lspproxy/internal/applog"
	"github.com/dshills/lspproxy/internal/repowatch"
)

// Manager coordinates multiple language servers. It is the top-level entry
// point for LSP operations: it owns the repository root, the ignore-pattern
// predicate, the shared document symbol cache, and routes every operation to
// the appropriate per-language Server, starting it on first use.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*Server // languageID -> server
	configs map[string]ServerConfig

	supervisors map[string]*Supervisor // languageID -> supervisor

	workspaceFolders []WorkspaceFolder
	diagnosticsCb    func(uri DocumentURI, diagnostics []Diagnostic)
	supervisorCb     func(event SupervisorEvent)

	repoRoot string
	ignore   *IgnorePatterns
	cache    *SymbolCache
	async    *AsyncCachePersister
	policies map[string]LanguagePolicy
	log      *applog.Logger
	limiter  *RateLimiter

	requestTimeout   time.Duration
	supervisionMode  bool
	supervisorConfig SupervisorConfig

	watcherMu sync.Mutex
	watcher   *repowatch.Debouncer
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRequestTimeout sets the default timeout for LSP requests.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.requestTimeout = d }
}

// WithDiagnosticsCallback sets a callback for diagnostics updates.
func WithDiagnosticsCallback(cb func(uri DocumentURI, diagnostics []Diagnostic)) ManagerOption {
	return func(m *Manager) { m.diagnosticsCb = cb }
}

// WithSupervision enables crash recovery supervision for servers.
func WithSupervision(config SupervisorConfig) ManagerOption {
	return func(m *Manager) {
		m.supervisionMode = true
		m.supervisorConfig = config
	}
}

// WithSupervisorCallback sets a callback for supervisor events.
func WithSupervisorCallback(cb func(event SupervisorEvent)) ManagerOption {
	return func(m *Manager) { m.supervisorCb = cb }
}

// WithRepoRoot sets the repository root used to resolve repository-relative
// paths across every managed server.
func WithRepoRoot(root string) ManagerOption {
	return func(m *Manager) { m.repoRoot = root }
}

// WithIgnorePatterns supplies the is_ignored(relative_path) predicate shared
// by every managed server, for file enumeration and reference filtering.
func WithIgnorePatterns(ip *IgnorePatterns) ManagerOption {
	return func(m *Manager) { m.ignore = ip }
}

// WithSymbolCache attaches a shared document-symbol cache across all servers.
func WithSymbolCache(c *SymbolCache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithAsyncCachePersister attaches a debounced cache writer, flushed on Shutdown.
func WithAsyncCachePersister(p *AsyncCachePersister) ManagerOption {
	return func(m *Manager) { m.async = p }
}

// WithLanguagePolicy registers a per-language behavior override.
func WithLanguagePolicy(languageID string, policy LanguagePolicy) ManagerOption {
	return func(m *Manager) {
		if m.policies == nil {
			m.policies = make(map[string]LanguagePolicy)
		}
		m.policies[languageID] = policy
	}
}

// WithManagerLogger attaches a logger shared by all managed servers.
func WithManagerLogger(l *applog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithManagerRateLimiter attaches a rate limiter shared by all managed servers.
func WithManagerRateLimiter(rl *RateLimiter) ManagerOption {
	return func(m *Manager) { m.limiter = rl }
}

// NewManager creates a new LSP manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:          make(map[string]*Server),
		configs:          make(map[string]ServerConfig),
		supervisors:      make(map[string]*Supervisor),
		requestTimeout:   10 * time.Second,
		supervisorConfig: DefaultSupervisorConfig(),
		log:              applog.NullLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterServer registers a server configuration for a language.
func (m *Manager) RegisterServer(languageID string, config ServerConfig) {
	m.mu.Lock()
	m.configs[languageID] = config
	m.mu.Unlock()
}

// SetWorkspaceFolders sets the workspace folders for all servers.
func (m *Manager) SetWorkspaceFolders(folders []WorkspaceFolder) {
	m.mu.Lock()
	m.workspaceFolders = folders
	m.mu.Unlock()
}

// WorkspaceRoot returns the root path of the first workspace folder, or empty string if none.
func (m *Manager) WorkspaceRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.workspaceFolders) > 0 {
		return URIToFilePath(m.workspaceFolders[0].URI)
	}
	return ""
}

// IsIgnored reports whether relPath is excluded from enumeration and reference results.
func (m *Manager) IsIgnored(relPath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ignore == nil {
		return false
	}
	return m.ignore.Match(relPath, false)
}

func (m *Manager) serverOptions(languageID string) []ServerOption {
	policy := LanguagePolicy(DefaultLanguagePolicy{})
	if p, ok := m.policies[languageID]; ok {
		policy = p
	}
	opts := []ServerOption{
		WithServerRepoRoot(m.repoRoot),
		WithServerIgnorePredicate(m.IsIgnored),
		WithServerLanguagePolicy(policy),
		WithServerLogger(m.log.WithComponent("server").WithField("language", languageID)),
	}
	if m.cache != nil {
		opts = append(opts, WithServerSymbolCache(m.cache))
	}
	if m.limiter != nil {
		opts = append(opts, WithServerRateLimiter(m.limiter))
	}
	return opts
}

// getOrStartServer returns the server for a language, starting it if needed.
func (m *Manager) getOrStartServer(ctx context.Context, languageID string) (*Server, error) {
	if m.supervisionMode {
		return m.getOrStartSupervisedServer(ctx, languageID)
	}

	m.mu.RLock()
	server, exists := m.servers[languageID]
	m.mu.RUnlock()

	if exists && server.Status() == ServerStatusReady {
		return server, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if server, exists = m.servers[languageID]; exists && server.Status() == ServerStatusReady {
		return server, nil
	}

	config, hasConfig := m.configs[languageID]
	if !hasConfig {
		return nil, &ServerError{LanguageID: languageID, Err: ErrNoSuchLanguage}
	}

	server = NewServer(config, languageID, m.serverOptions(languageID)...)

	if m.diagnosticsCb != nil {
		server.OnDiagnostics(m.diagnosticsCb)
	}

	if err := server.Start(ctx, m.workspaceFolders); err != nil {
		return nil, &ServerError{LanguageID: languageID, Err: err}
	}

	m.servers[languageID] = server
	return server, nil
}

// getOrStartSupervisedServer returns a supervised server, starting it if needed.
func (m *Manager) getOrStartSupervisedServer(ctx context.Context, languageID string) (*Server, error) {
	m.mu.RLock()
	supervisor, exists := m.supervisors[languageID]
	m.mu.RUnlock()

	if exists {
		if supervisor.IsReady() {
			return supervisor.Server(), nil
		}
		if supervisor.State() == SupervisorStateFailed {
			return nil, &ServerError{LanguageID: languageID, Err: ErrSupervisorFailed}
		}
		if server := supervisor.Server(); server != nil {
			return server, nil
		}
		return nil, &ServerError{LanguageID: languageID, Err: ErrNotStarted}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if supervisor, exists = m.supervisors[languageID]; exists {
		if supervisor.IsReady() {
			return supervisor.Server(), nil
		}
		if server := supervisor.Server(); server != nil {
			return server, nil
		}
		return nil, &ServerError{LanguageID: languageID, Err: ErrNotStarted}
	}

	config, hasConfig := m.configs[languageID]
	if !hasConfig {
		return nil, &ServerError{LanguageID: languageID, Err: ErrNoSuchLanguage}
	}

	supervisor = NewSupervisor(config, languageID, m.supervisorConfig, m.serverOptions(languageID)...)

	if m.diagnosticsCb != nil {
		supervisor.OnDiagnostics(m.diagnosticsCb)
	}
	if m.supervisorCb != nil {
		go m.forwardSupervisorEvents(supervisor)
	}

	if err := supervisor.Start(ctx, m.workspaceFolders); err != nil {
		return nil, &ServerError{LanguageID: languageID, Err: err}
	}

	m.supervisors[languageID] = supervisor
	return supervisor.Server(), nil
}

func (m *Manager) forwardSupervisorEvents(supervisor *Supervisor) {
	for event := range supervisor.Events() {
		if m.supervisorCb != nil {
			m.supervisorCb(event)
		}
	}
}

// ServerForFile returns the server for a file, starting it if needed.
func (m *Manager) ServerForFile(ctx context.Context, path string) (*Server, error) {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil, ErrNoSuchLanguage
	}
	return m.getOrStartServer(ctx, languageID)
}

// ServerForLanguage returns the server for a language, starting it if needed.
func (m *Manager) ServerForLanguage(ctx context.Context, languageID string) (*Server, error) {
	return m.getOrStartServer(ctx, languageID)
}

// OpenFile opens a file with its language's server.
func (m *Manager) OpenFile(ctx context.Context, path string) error {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNoSuchLanguage) {
			return nil
		}
		return err
	}
	_, err = server.OpenFile(ctx, path)
	return err
}

// ReleaseFile releases a file from its language's server.
func (m *Manager) ReleaseFile(ctx context.Context, path string) error {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil
	}

	m.mu.RLock()
	server, exists := m.servers[languageID]
	if sup, ok := m.supervisors[languageID]; ok {
		server = sup.Server()
		exists = server != nil
	}
	m.mu.RUnlock()
	if !exists || server.Status() != ServerStatusReady {
		return nil
	}
	return server.ReleaseFile(ctx, path)
}

// ChangeDocument notifies the server of a full-document update.
func (m *Manager) ChangeDocument(ctx context.Context, path, newContent string) error {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil
	}

	m.mu.RLock()
	server, exists := m.servers[languageID]
	if sup, ok := m.supervisors[languageID]; ok {
		server = sup.Server()
		exists = server != nil
	}
	m.mu.RUnlock()
	if !exists || server.Status() != ServerStatusReady {
		return nil
	}
	return server.ChangeDocument(ctx, path, newContent)
}

// DocumentSymbols requests document symbols (spec §4.2 request_document_symbols).
func (m *Manager) DocumentSymbols(ctx context.Context, path string, includeBody bool) (tree []*Symbol, flat []*Symbol, err error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return server.DocumentSymbols(ctx, path, includeBody)
}

// FullSymbolTree requests the aggregated symbol tree under withinPath (spec §4.2 request_full_symbol_tree).
func (m *Manager) FullSymbolTree(ctx context.Context, withinPath string, includeBody bool) ([]*Symbol, error) {
	languageID := DetectLanguageID(withinPath)
	if languageID == "" {
		return m.fullSymbolTreeAllLanguages(ctx, withinPath, includeBody)
	}
	server, err := m.ServerForLanguage(ctx, languageID)
	if err != nil {
		return nil, err
	}
	return server.FullSymbolTree(ctx, withinPath, includeBody)
}

// fullSymbolTreeAllLanguages handles a directory request by fanning out to
// every registered language, since a repository-relative directory may
// contain files in more than one language.
func (m *Manager) fullSymbolTreeAllLanguages(ctx context.Context, withinPath string, includeBody bool) ([]*Symbol, error) {
	m.mu.RLock()
	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	m.mu.RUnlock()

	var roots []*Symbol
	for _, lang := range langs {
		server, err := m.ServerForLanguage(ctx, lang)
		if err != nil {
			continue
		}
		part, err := server.FullSymbolTree(ctx, withinPath, includeBody)
		if err != nil {
			m.log.Debug("full symbol tree for %s under %s: %v", lang, withinPath, err)
			continue
		}
		roots = append(roots, part...)
	}
	return roots, nil
}

// ContainingSymbol requests the smallest symbol enclosing (line, column) in path.
func (m *Manager) ContainingSymbol(ctx context.Context, path string, pos Position, includeBody bool) (*Symbol, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.ContainingSymbol(ctx, path, pos, includeBody)
}

// ReferencingSymbols returns the containing symbol at each reference location of namePath within path.
func (m *Manager) ReferencingSymbols(ctx context.Context, namePath, path string) ([]*Symbol, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.ReferencingSymbols(ctx, namePath, path)
}

// Find returns symbols under withinPath whose qualified name path matches pattern.
func (m *Manager) Find(ctx context.Context, pattern, withinPath string, substring bool) ([]*Symbol, error) {
	languageID := DetectLanguageID(withinPath)
	if languageID == "" {
		tree, err := m.fullSymbolTreeAllLanguages(ctx, withinPath, false)
		if err != nil {
			return nil, err
		}
		return FindByNamePattern(tree, ParseNamePattern(pattern, substring)), nil
	}
	server, err := m.ServerForLanguage(ctx, languageID)
	if err != nil {
		return nil, err
	}
	return server.Find(ctx, pattern, withinPath, substring)
}

// Hover requests hover information at a position.
func (m *Manager) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.Hover(ctx, path, pos)
}

// Definition requests go-to-definition at a position.
func (m *Manager) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.Definition(ctx, path, pos)
}

// References requests find-references at a position.
func (m *Manager) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.References(ctx, path, pos, includeDecl)
}

// WorkspaceSymbol searches for symbols matching query across every registered language.
func (m *Manager) WorkspaceSymbol(ctx context.Context, query string) ([]*Symbol, error) {
	m.mu.RLock()
	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	m.mu.RUnlock()

	var out []*Symbol
	for _, lang := range langs {
		server, err := m.ServerForLanguage(ctx, lang)
		if err != nil {
			continue
		}
		syms, err := server.WorkspaceSymbols(ctx, query)
		if err != nil {
			m.log.Debug("workspace symbol for %s: %v", lang, err)
			continue
		}
		out = append(out, syms...)
	}
	return out, nil
}

// RenameSymbolEdit requests a rename refactoring at a position.
func (m *Manager) RenameSymbolEdit(ctx context.Context, path string, pos Position, newName string) (*WorkspaceEdit, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.RenameSymbolEdit(ctx, path, pos, newName)
}

// Diagnostics returns cached diagnostics for a document.
func (m *Manager) Diagnostics(ctx context.Context, path string) ([]Diagnostic, error) {
	server, err := m.ServerForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return server.Diagnostics(path), nil
}

// IsAvailable checks if LSP is available for a file.
func (m *Manager) IsAvailable(path string) bool {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, hasConfig := m.configs[languageID]; hasConfig {
		return true
	}
	if server, exists := m.servers[languageID]; exists {
		return server.Status() == ServerStatusReady
	}
	return false
}

// SaveAllCaches persists the shared symbol cache under dir as one
// "<language>.processed.cache" file per language that has cache entries,
// in the processed framing. No raw-flavor file is written.
func (m *Manager) SaveAllCaches(dir string) error {
	if m.cache == nil {
		return nil
	}
	snapshot := m.cache.Snapshot()
	byLanguage := make(map[string]map[CacheKey]CacheEntry)
	for key, entry := range snapshot {
		if byLanguage[key.Language] == nil {
			byLanguage[key.Language] = make(map[CacheKey]CacheEntry)
		}
		byLanguage[key.Language][key] = entry
	}

	var errs []error
	for lang, entries := range byLanguage {
		path := filepath.Join(dir, lang+".processed.cache")
		if err := SaveCacheToPath(path, cacheMagicProcessed, entries); err != nil {
			errs = append(errs, fmt.Errorf("save cache for %s: %w", lang, err))
		}
	}
	return errors.Join(errs...)
}

// ScheduleAsyncCacheWrites debounces SaveAllCaches through the attached
// AsyncCachePersister, falling back to a synchronous save if none is attached.
func (m *Manager) ScheduleAsyncCacheWrites(dir string) {
	if m.cache == nil {
		return
	}
	if m.async == nil {
		if err := m.SaveAllCaches(dir); err != nil {
			m.log.Warn("cache save failed: %v", err)
		}
		return
	}
	m.async.ScheduleWrite("symbol-cache:"+dir, dir, func(_ string, data any) error {
		return m.SaveAllCaches(data.(string))
	})
}

// WatchRepository starts watching the repository root for file changes,
// invalidating cache entries for any changed or removed file and scheduling
// an async cache write so the invalidation survives a restart. debounce <= 0
// uses the watcher's own default. Calling WatchRepository again replaces any
// previously running watcher.
func (m *Manager) WatchRepository(debounce time.Duration, cacheDir string) error {
	root := m.WorkspaceRoot()
	if root == "" {
		return errors.New("lsp: cannot watch repository, no repo root configured")
	}

	inner, err := repowatch.New(root, repowatch.WithIgnoreFunc(func(relPath string, isDir bool) bool {
		return m.IsIgnored(relPath)
	}))
	if err != nil {
		return fmt.Errorf("starting repository watcher: %w", err)
	}
	if err := inner.WatchRecursive(root); err != nil {
		inner.Close()
		return fmt.Errorf("watching repository tree: %w", err)
	}

	watcher := repowatch.NewDebouncer(inner, debounce)

	m.watcherMu.Lock()
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.watcher = watcher
	m.watcherMu.Unlock()

	go m.watchLoop(watcher, root, cacheDir)
	return nil
}

// StopWatching stops the repository watcher started by WatchRepository, if
// any.
func (m *Manager) StopWatching() error {
	m.watcherMu.Lock()
	w := m.watcher
	m.watcher = nil
	m.watcherMu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (m *Manager) watchLoop(w *repowatch.Debouncer, root, cacheDir string) {
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			m.handleRepoChange(root, ev, cacheDir)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			m.log.Warn("repository watcher error: %v", err)
		}
	}
}

func (m *Manager) handleRepoChange(root string, ev repowatch.Event, cacheDir string) {
	if m.cache == nil {
		return
	}
	rel, err := filepath.Rel(root, ev.Path)
	if err != nil {
		rel = ev.Path
	}
	ext := filepath.Ext(rel)
	if ext == "" {
		return
	}
	lang := LanguageIDForExtension(ext)
	if lang == "" {
		return
	}
	m.cache.Invalidate(lang, rel)
	m.log.Debug("invalidated cache entry on file change: %s (%s)", rel, lang)
	if cacheDir != "" {
		m.ScheduleAsyncCacheWrites(cacheDir)
	}
}

// Shutdown gracefully shuts down all servers and supervisors, flushing any
// pending async cache writes first.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.async != nil {
		m.async.Shutdown(5 * time.Second)
	}
	_ = m.StopWatching()

	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.servers = make(map[string]*Server)

	supervisors := make([]*Supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		supervisors = append(supervisors, s)
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	var errs []error
	for _, s := range supervisors {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServerStatus returns the status of a language server.
func (m *Manager) ServerStatus(languageID string) ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if supervisor, exists := m.supervisors[languageID]; exists {
		if server := supervisor.Server(); server != nil {
			return server.Status()
		}
		return ServerStatusStopped
	}

	server, exists := m.servers[languageID]
	if !exists {
		return ServerStatusStopped
	}
	return server.Status()
}

// SupervisorStats returns statistics for a supervised server.
func (m *Manager) SupervisorStats(languageID string) (SupervisorStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	supervisor, exists := m.supervisors[languageID]
	if !exists {
		return SupervisorStats{}, false
	}
	return supervisor.Stats(), true
}

// IsSupervised returns true if supervision mode is enabled.
func (m *Manager) IsSupervised() bool { return m.supervisionMode }

// RegisteredLanguages returns the list of languages with registered servers.
func (m *Manager) RegisteredLanguages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	return langs
}

// DefaultServerConfigs returns default configurations for common language servers.
func DefaultServerConfigs() map[string]ServerConfig {
	return map[string]ServerConfig{
		"go":         {Command: "gopls", Args: []string{"serve"}},
		"rust":       {Command: "rust-analyzer"},
		"typescript": {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"javascript": {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"python":     {Command: "pylsp"},
		"c":          {Command: "clangd"},
		"cpp":        {Command: "clangd"},
	}
}

// AutoDetectServers detects available language servers on the system.
func AutoDetectServers() map[string]ServerConfig {
	defaults := DefaultServerConfigs()
	available := make(map[string]ServerConfig)
	for lang, config := range defaults {
		if _, err := exec.LookPath(config.Command); err == nil {
			available[lang] = config
		}
	}
	return available
}

// ManagedServerInfo provides information about a running server.
type ManagedServerInfo struct {
	LanguageID   string
	Status       ServerStatus
	Capabilities ServerCapabilities
}

// ServerInfos returns information about all servers.
func (m *Manager) ServerInfos() []ManagedServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ManagedServerInfo, 0, len(m.servers))
	for langID, server := range m.servers {
		infos = append(infos, ManagedServerInfo{
			LanguageID:   langID,
			Status:       server.Status(),
			Capabilities: server.Capabilities(),
		})
	}
	return infos
}

// WorkspaceFolderFromPath creates a workspace folder from a directory path.
func WorkspaceFolderFromPath(path string) WorkspaceFolder {
	absPath, _ := filepath.Abs(path)
	name := filepath.Base(absPath)
	return WorkspaceFolder{URI: FilePathToURI(absPath), Name: name}
}

// DetectWorkspaceFolders detects workspace folders from common project markers.
func DetectWorkspaceFolders(root string) []WorkspaceFolder {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return []WorkspaceFolder{WorkspaceFolderFromPath(root)}
	}

	markers := []string{"go.mod", "package.json", "Cargo.toml", "pyproject.toml", "setup.py", ".git"}
	for _, marker := range markers {
		if fileExists(filepath.Join(absRoot, marker)) {
			return []WorkspaceFolder{WorkspaceFolderFromPath(absRoot)}
		}
	}
	return []WorkspaceFolder{WorkspaceFolderFromPath(absRoot)}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LanguageIDForExtension returns the language ID for a file extension.
func LanguageIDForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	extMap := map[string]string{
		"go": "go", "rs": "rust", "ts": "typescript", "tsx": "typescriptreact",
		"js": "javascript", "jsx": "javascriptreact", "py": "python",
		"c": "c", "h": "c", "cpp": "cpp", "cc": "cpp", "cxx": "cpp", "hpp": "cpp", "hxx": "cpp",
		"java": "java", "rb": "ruby", "php": "php", "swift": "swift",
		"kt": "kotlin", "kts": "kotlin", "scala": "scala", "lua": "lua",
		"sh": "shellscript", "bash": "shellscript", "zsh": "shellscript",
		"json": "json", "yaml": "yaml", "yml": "yaml", "xml": "xml",
		"html": "html", "htm": "html", "css": "css", "scss": "scss", "sass": "sass", "less": "less",
		"md": "markdown", "sql": "sql", "r": "r", "cs": "csharp", "fs": "fsharp", "vb": "vb",
		"dart": "dart", "ex": "elixir", "exs": "elixir", "erl": "erlang", "hrl": "erlang",
		"hs": "haskell", "lhs": "haskell", "ml": "ocaml", "mli": "ocaml",
		"clj": "clojure", "cljs": "clojurescript", "vim": "vim", "proto": "protobuf",
		"tf": "terraform", "tfvars": "terraform", "vue": "vue", "svelte": "svelte",
		"zig": "zig", "nim": "nim", "cr": "crystal", "jl": "julia",
	}
	if langID, ok := extMap[ext]; ok {
		return langID
	}
	return ""
}

// RestartServer restarts a language server.
func (m *Manager) RestartServer(ctx context.Context, languageID string) error {
	m.mu.Lock()
	server, exists := m.servers[languageID]
	if exists {
		delete(m.servers, languageID)
	}
	m.mu.Unlock()

	if exists && server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		server.Shutdown(shutdownCtx)
		cancel()
	}

	m.mu.RLock()
	_, hasConfig := m.configs[languageID]
	m.mu.RUnlock()

	if !hasConfig {
		return fmt.Errorf("no configuration for language: %s", languageID)
	}
	return nil
}
