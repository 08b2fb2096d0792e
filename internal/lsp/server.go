package lsp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/lspproxy/internal/applog"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Server is the per-language façade described by §4.2: it owns one child
// language server process, its open-file buffer map, and a document symbol
// cache, and presents repository-relative symbolic operations on top of the
// raw JSON-RPC transport.
type Server struct {
	mu sync.Mutex

	config     ServerConfig
	languageID string
	repoRoot   string
	isIgnored  func(relPath string) bool
	policy     LanguagePolicy
	cache      *SymbolCache
	log        *applog.Logger
	limiter    *RateLimiter

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *Transport

	status       atomic.Int32
	capabilities ServerCapabilities
	serverInfo   *InitializeServerInfo
	lastError    error

	buffers   map[DocumentURI]*FileBuffer
	buffersMu sync.Mutex

	diagnostics   map[DocumentURI][]Diagnostic
	diagnosticsMu sync.RWMutex
	diagHandler   func(uri DocumentURI, diagnostics []Diagnostic)

	workspaceFolders []WorkspaceFolder

	warmupOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	exitCh chan error
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	WorkDir string

	InitializationOptions any
	Settings              any

	FilePatterns []string
	LanguageIDs  []string

	Timeout time.Duration
}

// ServerOption configures a Server at construction, beyond its launch config.
type ServerOption func(*Server)

// WithServerRepoRoot sets the repository root used to resolve
// repository-relative paths and to filter cross-repo reference results.
func WithServerRepoRoot(root string) ServerOption {
	return func(s *Server) { s.repoRoot = root }
}

// WithServerIgnorePredicate supplies the is_ignored(relative_path) predicate
// used for directory traversal and reference filtering.
func WithServerIgnorePredicate(fn func(relPath string) bool) ServerOption {
	return func(s *Server) { s.isIgnored = fn }
}

// WithServerLanguagePolicy overrides the default (identity) per-language hooks.
func WithServerLanguagePolicy(p LanguagePolicy) ServerOption {
	return func(s *Server) { s.policy = p }
}

// WithServerSymbolCache attaches a shared document-symbol cache.
func WithServerSymbolCache(c *SymbolCache) ServerOption {
	return func(s *Server) { s.cache = c }
}

// WithServerLogger attaches a logger.
func WithServerLogger(l *applog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithServerRateLimiter attaches a rate limiter to the underlying transport.
func WithServerRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// NewServer creates a new server instance (not yet started).
func NewServer(config ServerConfig, languageID string, opts ...ServerOption) *Server {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	s := &Server{
		config:      config,
		languageID:  languageID,
		policy:      DefaultLanguagePolicy{},
		log:         applog.NullLogger,
		buffers:     make(map[DocumentURI]*FileBuffer),
		diagnostics: make(map[DocumentURI][]Diagnostic),
		exitCh:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.isIgnored == nil {
		s.isIgnored = func(string) bool { return false }
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start starts the language server process and initializes it.
func (s *Server) Start(ctx context.Context, workspaceFolders []WorkspaceFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}

	s.status.Store(int32(ServerStatusStarting))
	s.workspaceFolders = workspaceFolders

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		return &TransportError{LanguageID: s.languageID, Err: err}
	}

	s.transport = NewTransport(s.stdout, s.stdin, nil,
		WithLogger(s.log.WithComponent("transport").WithField("language", s.languageID)),
		WithRateLimiter(s.limiter),
	)

	s.registerNotificationHandlers()
	s.registerRequestHandlers()
	s.transport.Start(s.ctx)

	go s.monitorProcess()

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(s.ctx); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		s.stopProcess()
		return &ServerError{LanguageID: s.languageID, Err: fmt.Errorf("initialize: %w", err)}
	}

	s.status.Store(int32(ServerStatusReady))
	return nil
}

func (s *Server) startProcess() error {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	} else if s.repoRoot != "" {
		cmd.Dir = s.repoRoot
	} else if len(s.workspaceFolders) > 0 {
		cmd.Dir = URIToFilePath(s.workspaceFolders[0].URI)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	return nil
}

func (s *Server) monitorProcess() {
	if s.cmd == nil {
		return
	}
	err := s.cmd.Wait()
	select {
	case s.exitCh <- err:
	default:
	}
}

func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.stderr != nil {
		s.stderr.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

func (s *Server) initialize(ctx context.Context) error {
	var rootURI DocumentURI
	if s.repoRoot != "" {
		rootURI = FilePathToURI(s.repoRoot)
	} else if len(s.workspaceFolders) > 0 {
		rootURI = s.workspaceFolders[0].URI
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders:      s.workspaceFolders,
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo

	if err := s.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (s *Server) registerNotificationHandlers() {
	s.transport.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		s.diagnosticsMu.Lock()
		if len(p.Diagnostics) == 0 {
			delete(s.diagnostics, p.URI)
		} else {
			s.diagnostics[p.URI] = p.Diagnostics
		}
		handler := s.diagHandler
		s.diagnosticsMu.Unlock()

		if handler != nil {
			handler(p.URI, p.Diagnostics)
		}
	})

	s.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		s.log.Debug("window/logMessage from %s: %s", s.languageID, string(params))
	})
	s.transport.OnNotification("window/showMessage", func(method string, params json.RawMessage) {
		s.log.Info("window/showMessage from %s: %s", s.languageID, string(params))
	})
}

// registerRequestHandlers answers server-to-client requests a language
// server commonly sends during and after initialization.
func (s *Server) registerRequestHandlers() {
	s.transport.OnRequest("workspace/configuration", s.handleWorkspaceConfiguration)
}

// handleWorkspaceConfiguration resolves each requested settings section
// against the per-language Settings blob, returning one result per item in
// request order (null when a section isn't present), per the
// workspace/configuration response shape.
func (s *Server) handleWorkspaceConfiguration(_ context.Context, rawParams json.RawMessage) (any, error) {
	var params ConfigurationParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("decoding workspace/configuration params: %w", err)
	}

	settingsJSON, err := json.Marshal(s.config.Settings)
	if err != nil || s.config.Settings == nil {
		settingsJSON = []byte("{}")
	}

	result := []byte("[]")
	for i, item := range params.Items {
		var value []byte
		if item.Section == "" {
			value = settingsJSON
		} else if v := gjson.GetBytes(settingsJSON, item.Section); v.Exists() {
			value = []byte(v.Raw)
		} else {
			value = []byte("null")
		}

		patched, err := sjson.SetRawBytes(result, strconv.Itoa(i), value)
		if err != nil {
			return nil, fmt.Errorf("building workspace/configuration response: %w", err)
		}
		result = patched
	}

	var decoded []any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decoding workspace/configuration response: %w", err)
	}
	return decoded, nil
}

// Shutdown gracefully shuts down the server per §4.1's lifecycle: shutdown
// request, exit notification, bounded wait, then force-stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ServerStatus(s.status.Load())
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}
	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
		cancel()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	return nil
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus { return ServerStatus(s.status.Load()) }

// Capabilities returns the server's capabilities.
func (s *Server) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// InitializeServerInfo returns information about the server from initialization.
func (s *Server) InitializeServerInfo() *InitializeServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LastError returns the last error that occurred.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LanguageID returns the language this server handles.
func (s *Server) LanguageID() string { return s.languageID }

// ExitChannel returns a channel that receives when the process exits.
func (s *Server) ExitChannel() <-chan error { return s.exitCh }

// OnDiagnostics registers a handler for diagnostic notifications.
func (s *Server) OnDiagnostics(handler func(uri DocumentURI, diagnostics []Diagnostic)) {
	s.diagnosticsMu.Lock()
	s.diagHandler = handler
	s.diagnosticsMu.Unlock()
}

// --- Path helpers ---

func (s *Server) absPath(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(s.repoRoot, relPath)
}

func (s *Server) relPath(absPath string) (string, bool) {
	if s.repoRoot == "" {
		return absPath, true
	}
	rel, err := filepath.Rel(s.repoRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return absPath, false
	}
	return rel, true
}

// RepoRelative resolves a location's URI to a repository-relative path. The
// second result is false if the location lies outside the repository root.
func (s *Server) RepoRelative(uri DocumentURI) (string, bool) {
	return s.relPath(URIToFilePath(uri))
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// --- Open-file scope (§4.2 "Open-file scope") ---

// OpenFile acquires a scoped reference to relPath, reading it from disk and
// sending didOpen on the first acquisition. Callers must call ReleaseFile
// exactly once for every successful OpenFile, on all exit paths.
func (s *Server) OpenFile(ctx context.Context, relPath string) (*FileBuffer, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}

	abs := s.absPath(relPath)
	uri := FilePathToURI(abs)

	s.buffersMu.Lock()
	if buf, exists := s.buffers[uri]; exists {
		buf.Acquire()
		s.buffersMu.Unlock()
		return buf, nil
	}
	s.buffersMu.Unlock()

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	info, err := os.Stat(abs)
	var mtime time.Time
	if err == nil {
		mtime = info.ModTime()
	}

	buf := NewFileBuffer(abs, s.languageID, raw, mtime)

	s.buffersMu.Lock()
	if existing, exists := s.buffers[uri]; exists {
		existing.Acquire()
		s.buffersMu.Unlock()
		return existing, nil
	}
	s.buffers[uri] = buf
	s.buffersMu.Unlock()

	buf.Acquire()

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: s.languageID,
			Version:    1,
			Text:       buf.Content(),
		},
	}
	if err := s.transport.Notify(ctx, "textDocument/didOpen", params); err != nil {
		return nil, err
	}
	return buf, nil
}

// OpenFileWithContent is like OpenFile but seeds the buffer with content
// already held by the caller (e.g. an unsaved editor buffer, or a supervisor
// re-syncing state after a crash) instead of reading the file from disk.
func (s *Server) OpenFileWithContent(ctx context.Context, relPath, content string) (*FileBuffer, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}

	abs := s.absPath(relPath)
	uri := FilePathToURI(abs)

	s.buffersMu.Lock()
	if buf, exists := s.buffers[uri]; exists {
		buf.Acquire()
		s.buffersMu.Unlock()
		return buf, nil
	}

	buf := NewFileBuffer(abs, s.languageID, []byte(content), time.Time{})
	s.buffers[uri] = buf
	s.buffersMu.Unlock()

	buf.Acquire()

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: s.languageID,
			Version:    1,
			Text:       buf.Content(),
		},
	}
	if err := s.transport.Notify(ctx, "textDocument/didOpen", params); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReleaseFile releases one reference taken by OpenFile, sending didClose and
// dropping the buffer when the ref count reaches zero.
func (s *Server) ReleaseFile(ctx context.Context, relPath string) error {
	abs := s.absPath(relPath)
	uri := FilePathToURI(abs)

	s.buffersMu.Lock()
	buf, exists := s.buffers[uri]
	if !exists {
		s.buffersMu.Unlock()
		return ErrDocumentNotOpen
	}
	remaining := buf.Release()
	if remaining == 0 {
		delete(s.buffers, uri)
	}
	s.buffersMu.Unlock()

	if remaining > 0 {
		return nil
	}

	params := DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	return s.transport.Notify(ctx, "textDocument/didClose", params)
}

// ChangeDocument replaces an open document's full text and notifies the
// server, invalidating any cached document symbols for relPath.
func (s *Server) ChangeDocument(ctx context.Context, relPath, newContent string) error {
	abs := s.absPath(relPath)
	uri := FilePathToURI(abs)

	s.buffersMu.Lock()
	buf, exists := s.buffers[uri]
	s.buffersMu.Unlock()
	if !exists {
		return ErrDocumentNotOpen
	}

	version := buf.ApplyChange(newContent)

	if s.cache != nil {
		s.cache.Invalidate(s.languageID, relPath)
	}

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: newContent}},
	}
	return s.transport.Notify(ctx, "textDocument/didChange", params)
}

// IsDocumentOpen returns true if relPath currently has an open buffer.
func (s *Server) IsDocumentOpen(relPath string) bool {
	uri := FilePathToURI(s.absPath(relPath))
	s.buffersMu.Lock()
	_, exists := s.buffers[uri]
	s.buffersMu.Unlock()
	return exists
}

// --- Diagnostics ---

// Diagnostics returns the current diagnostics for relPath.
func (s *Server) Diagnostics(relPath string) []Diagnostic {
	uri := FilePathToURI(s.absPath(relPath))
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()
	return s.diagnostics[uri]
}

// AllDiagnostics returns diagnostics for all files, keyed by repository-relative path.
func (s *Server) AllDiagnostics() map[string][]Diagnostic {
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()

	result := make(map[string][]Diagnostic, len(s.diagnostics))
	for uri, diags := range s.diagnostics {
		rel, _ := s.relPath(URIToFilePath(uri))
		result[rel] = diags
	}
	return result
}

// --- Warm-up (§4.2 "Warm-up policy") ---

func (s *Server) awaitWarmup() {
	s.warmupOnce.Do(func() {
		if wait := s.policy.WarmupWait(); wait > 0 {
			time.Sleep(wait)
		}
	})
}

// --- Operations (§4.2 public contract) ---

// DocumentSymbols returns the document's symbol tree (hierarchical, parent
// pointers intact) and its depth-first flattening, normalized to the
// canonical Symbol form and cached by (path, content hash).
func (s *Server) DocumentSymbols(ctx context.Context, relPath string, includeBody bool) (tree []*Symbol, flat []*Symbol, err error) {
	if s.Status() != ServerStatusReady {
		return nil, nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.DocumentSymbolProvider) {
		return nil, nil, ErrCapabilityUnsupported
	}

	buf, err := s.OpenFile(ctx, relPath)
	if err != nil {
		return nil, nil, err
	}
	defer s.ReleaseFile(ctx, relPath)

	content := buf.Content()
	hash := contentHash(content)
	key := CacheKey{Language: s.languageID, Path: relPath, ContentHash: hash}

	if s.cache != nil {
		if entry, ok := s.cache.Get(key); ok {
			tree = entry.Symbols
			if includeBody {
				attachBodies(tree, content)
			}
			return tree, FlattenSymbolTree(tree), nil
		}
	}

	uri := FilePathToURI(s.absPath(relPath))
	params := DocumentSymbolParams{TextDocument: TextDocumentIdentifier{URI: uri}}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var raw []DocumentSymbol
	if err := s.transport.Call(reqCtx, "textDocument/documentSymbol", params, &raw); err != nil {
		return nil, nil, err
	}

	tree = BuildSymbolTree(uri, raw)
	s.applyPolicy(tree)

	if s.cache != nil {
		s.cache.Put(key, CacheEntry{Symbols: tree, VersionStamp: hash, Timestamp: time.Now()})
	}

	if includeBody {
		attachBodies(tree, content)
	}
	return tree, FlattenSymbolTree(tree), nil
}

func (s *Server) applyPolicy(nodes []*Symbol) {
	for _, n := range nodes {
		n.Name = s.policy.NormalizeSymbolName(n.Name)
		n.Range = s.policy.ExtendRangeForTerminator(n.Range)
		s.applyPolicy(n.Children)
	}
}

// attachBodies fills in each symbol's Body with its source text, sliced by
// byte offset via a PositionConverter since a symbol Range's Character
// fields are UTF-16 code units, not byte or rune indices.
func attachBodies(nodes []*Symbol, content string) {
	pc := NewPositionConverter(content)
	for _, n := range nodes {
		start, end := pc.RangeToByteOffsets(n.Range)
		if start < 0 || end > len(content) || start > end {
			empty := ""
			n.Body = &empty
			attachBodies(n.Children, content)
			continue
		}
		body := content[start:end]
		n.Body = &body
		attachBodies(n.Children, content)
	}
}

// FullSymbolTree returns top-level symbols under withinPath (§4.2). A file
// delegates to DocumentSymbols; a directory traverses non-ignored files and
// aggregates their roots.
func (s *Server) FullSymbolTree(ctx context.Context, withinPath string, includeBody bool) ([]*Symbol, error) {
	abs := s.absPath(withinPath)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", withinPath, err)
	}
	if !info.IsDir() {
		tree, _, err := s.DocumentSymbols(ctx, withinPath, includeBody)
		return tree, err
	}

	var roots []*Symbol
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := s.relPath(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if rel != "." && s.isIgnored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.isIgnored(rel) {
			return nil
		}
		if !s.MatchesFile(rel) {
			return nil
		}
		tree, _, err := s.DocumentSymbols(ctx, rel, includeBody)
		if err != nil {
			s.log.Debug("document symbols for %s: %v", rel, err)
			return nil
		}
		roots = append(roots, tree...)
		return nil
	})
	return roots, err
}

// ContainingSymbol returns the smallest symbol enclosing (line, column) in relPath.
func (s *Server) ContainingSymbol(ctx context.Context, relPath string, pos Position, includeBody bool) (*Symbol, error) {
	tree, _, err := s.DocumentSymbols(ctx, relPath, includeBody)
	if err != nil {
		return nil, err
	}
	return FindContainingSymbol(tree, pos), nil
}

// Find returns symbols under withinPath whose qualified name path matches pattern.
func (s *Server) Find(ctx context.Context, pattern string, withinPath string, substring bool) ([]*Symbol, error) {
	if withinPath == "" {
		withinPath = "."
	}
	tree, err := s.FullSymbolTree(ctx, withinPath, false)
	if err != nil {
		return nil, err
	}
	return FindByNamePattern(tree, ParseNamePattern(pattern, substring)), nil
}

// Definition returns the definition location(s) for the symbol at (line, column).
func (s *Server) Definition(ctx context.Context, relPath string, pos Position) ([]Location, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.DefinitionProvider) {
		return nil, ErrCapabilityUnsupported
	}

	buf, err := s.OpenFile(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseFile(ctx, relPath)
	_ = buf

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(s.absPath(relPath))},
		Position:     pos,
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var raw json.RawMessage
	if err := s.transport.Call(reqCtx, "textDocument/definition", params, &raw); err != nil {
		return nil, err
	}
	return ParseLocationResult(raw)
}

// References finds references to the symbol at (line, column), filtered to
// locations inside the repository root.
func (s *Server) References(ctx context.Context, relPath string, pos Position, includeDecl bool) ([]Location, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.ReferencesProvider) {
		return nil, ErrCapabilityUnsupported
	}
	s.awaitWarmup()

	buf, err := s.OpenFile(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseFile(ctx, relPath)
	_ = buf

	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(s.absPath(relPath))},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDecl},
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result []Location
	if err := s.transport.Call(reqCtx, "textDocument/references", params, &result); err != nil {
		return nil, err
	}

	filtered := result[:0]
	for _, loc := range result {
		if rel, ok := s.relPath(URIToFilePath(loc.URI)); ok {
			if s.isIgnored(rel) {
				continue
			}
			filtered = append(filtered, loc)
		}
	}
	return filtered, nil
}

// ReferencingSymbols returns, for each reference location of the symbol
// identified by namePath within relPath, the containing symbol at that
// location, deduplicated by (URI, range).
func (s *Server) ReferencingSymbols(ctx context.Context, namePath string, relPath string) ([]*Symbol, error) {
	tree, _, err := s.DocumentSymbols(ctx, relPath, false)
	if err != nil {
		return nil, err
	}

	pattern := ParseNamePattern(namePath, false)
	candidates := FindByNamePattern(tree, pattern)
	if len(candidates) == 0 {
		return nil, nil
	}
	target := candidates[0]

	locs, err := s.References(ctx, relPath, target.SelectionRange.Start, true)
	if err != nil {
		return nil, err
	}

	type dedupKey struct {
		uri   DocumentURI
		start Position
		end   Position
	}
	seen := make(map[dedupKey]bool)

	var out []*Symbol
	for _, loc := range locs {
		k := dedupKey{loc.URI, loc.Range.Start, loc.Range.End}
		if seen[k] {
			continue
		}
		seen[k] = true

		rel, ok := s.relPath(URIToFilePath(loc.URI))
		if !ok {
			continue
		}
		refTree, _, err := s.DocumentSymbols(ctx, rel, false)
		if err != nil {
			continue
		}
		if sym := FindContainingSymbol(refTree, loc.Range.Start); sym != nil {
			out = append(out, sym)
		}
	}
	return out, nil
}

// WorkspaceSymbols searches for symbols matching query across the workspace,
// returning canonical Symbol values.
func (s *Server) WorkspaceSymbols(ctx context.Context, query string) ([]*Symbol, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.WorkspaceSymbolProvider) {
		return nil, ErrCapabilityUnsupported
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result []SymbolInformation
	if err := s.transport.Call(reqCtx, "workspace/symbol", WorkspaceSymbolParams{Query: query}, &result); err != nil {
		return nil, err
	}

	out := make([]*Symbol, len(result))
	for i, si := range result {
		out[i] = &Symbol{
			Name:           s.policy.NormalizeSymbolName(si.Name),
			Kind:           NormalizeSymbolKind(si.Kind),
			Range:          si.Location.Range,
			SelectionRange: si.Location.Range,
			Location:       si.Location,
		}
	}
	return out, nil
}

// Hover returns hover contents at (line, column).
func (s *Server) Hover(ctx context.Context, relPath string, pos Position) (*Hover, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.HoverProvider) {
		return nil, ErrCapabilityUnsupported
	}

	buf, err := s.OpenFile(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseFile(ctx, relPath)
	_ = buf

	params := HoverParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(s.absPath(relPath))},
			Position:     pos,
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result *Hover
	if err := s.transport.Call(reqCtx, "textDocument/hover", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RenameSymbolEdit requests a workspace edit renaming the symbol at
// (line, column) to newName.
func (s *Server) RenameSymbolEdit(ctx context.Context, relPath string, pos Position, newName string) (*WorkspaceEdit, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrNotStarted
	}
	if !HasCapability(s.capabilities.RenameProvider) {
		return nil, ErrCapabilityUnsupported
	}

	buf, err := s.OpenFile(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer s.ReleaseFile(ctx, relPath)
	_ = buf

	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(s.absPath(relPath))},
			Position:     pos,
		},
		NewName: newName,
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result *WorkspaceEdit
	if err := s.transport.Call(reqCtx, "textDocument/rename", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// --- Helpers ---

// MatchesFile returns true if this server handles the given file.
func (s *Server) MatchesFile(path string) bool {
	langID := DetectLanguageID(path)
	for _, id := range s.config.LanguageIDs {
		if id == langID {
			return true
		}
	}

	base := filepath.Base(path)
	for _, pattern := range s.config.FilePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
