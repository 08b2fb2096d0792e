// Package lsp implements a multi-language code-intelligence proxy core over
// the Language Server Protocol. It manages external language server
// processes (gopls, rust-analyzer, typescript-language-server, etc.),
// normalizes their symbol output into a uniform tree, and exposes a small
// set of file- and symbol-oriented operations rather than the full LSP
// surface.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Transport: JSON-RPC 2.0 framing over a server's stdio, with
//     request/response correlation, notification dispatch, and
//     server-to-client requests.
//   - Server: a single language server's lifecycle and operation façade
//     (OpenFile/ReleaseFile scope, DocumentSymbols, FullSymbolTree,
//     ContainingSymbol, ReferencingSymbols, Find, Definition, References,
//     RenameSymbolEdit, Hover, WorkspaceSymbols).
//   - Supervisor: crash monitoring and restart with exponential backoff,
//     re-opening tracked documents against the replacement Server.
//   - CompanionServer: orchestrates a primary server for a hybrid file
//     format together with one or more companion servers handling
//     definition/reference/rename for embedded-language segments.
//   - Manager: routes operations to the right per-language Server (or
//     Supervisor), starting servers lazily on first use.
//   - SymbolCache + AsyncCachePersister: a bounded, debounced
//     document-symbol cache shared across Servers.
//
// # Quick Start
//
//	mgr := lsp.NewManager(
//	    lsp.WithRepoRoot(root),
//	    lsp.WithIgnorePatterns(ignore),
//	)
//	mgr.RegisterServer("go", lsp.ServerConfig{Command: "gopls", Args: []string{"serve"}})
//	mgr.SetWorkspaceFolders(lsp.DetectWorkspaceFolders(root))
//
//	if err := mgr.OpenFile(ctx, "main.go"); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Shutdown(ctx)
//
//	tree, flat, err := mgr.DocumentSymbols(ctx, "main.go", false)
//
// # Multi-Server Routing
//
// The Manager starts a per-language Server lazily the first time a file of
// that language is touched, and routes every subsequent operation to it by
// file extension or explicit language ID. Crash supervision, when enabled,
// is transparent to callers: a crashed Server is replaced behind the same
// Manager-level handle.
//
// # Symbol Caching
//
// Document symbol trees are expensive to recompute on every request, so
// Server caches them by (language, repository-relative path, content hash)
// in a bounded in-memory SymbolCache. Manager.SaveAllCaches and
// Manager.ScheduleAsyncCacheWrites persist that cache to disk, the latter
// debounced through an AsyncCachePersister so frequent edits don't each
// trigger a blocking write.
//
// # Thread Safety
//
// Manager, Server, Supervisor, CompanionServer, and SymbolCache are all
// safe for concurrent use.
package lsp
