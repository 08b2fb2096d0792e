// Command lspproxyd loads a repository's lspproxy configuration, registers
// the language servers it names with a Manager, watches the repository for
// file changes, and runs until signaled to shut down. A server starts only
// when an operation is routed to it, and lspproxyd itself issues none. It
// has no stdio or network front end of its own —
// it exists to prove out the config → Manager → server lifecycle end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dshills/lspproxy/internal/applog"
	"github.com/dshills/lspproxy/internal/config"
	"github.com/dshills/lspproxy/internal/lsp"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

type options struct {
	ConfigPath string
	RepoRoot   string
	LogLevel   string
	CacheDir   string
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath,
		config.WithRoot(opts.RepoRoot),
		config.WithLogLevel(opts.LogLevel),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}

	log := applog.New(applog.Config{
		Level:  applog.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Prefix: "lspproxyd",
	})

	mgr, err := buildManager(cfg, log, opts.CacheDir)
	if err != nil {
		log.Error("failed to build manager: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("lspproxyd started: root=%s languages=%v", cfg.Root, mgr.RegisteredLanguages())

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown reported errors: %v", err)
		return 1
	}
	return 0
}

// buildManager wires a Manager from a resolved RepositoryConfig: repo root,
// ignore predicate, symbol cache (with async persistence if enabled), rate
// limiter, and every configured language server.
func buildManager(cfg config.RepositoryConfig, log *applog.Logger, cacheDirOverride string) (*lsp.Manager, error) {
	ignore := lsp.NewIgnorePatterns()
	if err := ignore.AddPatterns([]string{".git/**", "node_modules/**", "vendor/**"}); err != nil {
		return nil, fmt.Errorf("loading default ignore patterns: %w", err)
	}

	cache := lsp.NewSymbolCache()

	cacheDir := cacheDirOverride
	if cacheDir == "" {
		cacheDir = cfg.CacheDir
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(cfg.Root, ".lspproxy", "cache")
	}

	async := lsp.NewAsyncCachePersister(cfg.CacheDebounce, cfg.CacheAsyncEnabled,
		lsp.WithAsyncLogger(log.WithComponent("cache")))

	limiter := lsp.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	opts := []lsp.ManagerOption{
		lsp.WithRepoRoot(cfg.Root),
		lsp.WithIgnorePatterns(ignore),
		lsp.WithSymbolCache(cache),
		lsp.WithAsyncCachePersister(async),
		lsp.WithManagerLogger(log.WithComponent("manager")),
		lsp.WithManagerRateLimiter(limiter),
		lsp.WithRequestTimeout(cfg.RequestTimeout),
	}

	mgr := lsp.NewManager(opts...)
	mgr.SetWorkspaceFolders(lsp.DetectWorkspaceFolders(cfg.Root))

	servers := cfg.Servers
	if len(servers) == 0 {
		servers = lsp.AutoDetectServers()
	}
	for languageID, serverCfg := range servers {
		mgr.RegisterServer(languageID, serverCfg)
	}

	mgr.ScheduleAsyncCacheWrites(cacheDir)

	if err := mgr.WatchRepository(cfg.CacheDebounce, cacheDir); err != nil {
		log.Warn("repository watcher not started: %v", err)
	}

	return mgr, nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to lspproxy.toml configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.RepoRoot, "root", "", "Repository root to index (defaults to the working directory)")
	flag.StringVar(&opts.CacheDir, "cache-dir", "", "Directory for persisted symbol caches (overrides config)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lspproxyd - multi-language LSP proxy daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lspproxyd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("lspproxyd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
