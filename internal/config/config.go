// Package config resolves a RepositoryConfig — the repository root, cache
// and rate-limit knobs, and per-language server launch descriptors a
// Manager needs — from layered sources: built-in defaults, an optional TOML
// file, LSPPROXY_-prefixed environment variables, and finally explicit
// functional options, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/lspproxy/internal/config/layer"
	"github.com/dshills/lspproxy/internal/config/loader"
	"github.com/dshills/lspproxy/internal/lsp"
)

// RepositoryConfig is the resolved, typed configuration for one lspproxy
// session.
type RepositoryConfig struct {
	Root     string
	Encoding string

	RequestTimeout time.Duration

	CacheDir           string
	CacheSchemaVersion int
	CacheDebounce      time.Duration
	CacheAsyncEnabled  bool

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string

	Servers map[string]lsp.ServerConfig
}

// DefaultRepositoryConfig returns the built-in defaults layer.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		Encoding:           "utf-8",
		RequestTimeout:     10 * time.Second,
		CacheSchemaVersion: 1,
		CacheDebounce:      2 * time.Second,
		CacheAsyncEnabled:  true,
		RateLimitRPS:       50,
		RateLimitBurst:     20,
		LogLevel:           "info",
		Servers:            make(map[string]lsp.ServerConfig),
	}
}

// Option customizes a RepositoryConfig after it's been resolved from files
// and environment — the highest-precedence layer.
type Option func(*RepositoryConfig)

// WithRoot sets the repository root, overriding any configured value.
func WithRoot(root string) Option {
	return func(c *RepositoryConfig) { c.Root = root }
}

// WithLogLevel overrides the configured log level.
func WithLogLevel(level string) Option {
	return func(c *RepositoryConfig) { c.LogLevel = level }
}

// WithServer registers or replaces a per-language server launch descriptor.
func WithServer(languageID string, server lsp.ServerConfig) Option {
	return func(c *RepositoryConfig) {
		if c.Servers == nil {
			c.Servers = make(map[string]lsp.ServerConfig)
		}
		c.Servers[languageID] = server
	}
}

// envPrefix is the namespace for environment variable overrides.
const envPrefix = "LSPPROXY_"

// Load resolves a RepositoryConfig from built-in defaults, tomlPath (skipped
// if empty or the file doesn't exist), environment variables, and opts.
func Load(tomlPath string, opts ...Option) (RepositoryConfig, error) {
	mgr := layer.NewManager()
	mgr.AddLayer(layer.NewLayer("defaults", layer.SourceBuiltin, layer.PriorityBuiltin))

	if tomlPath != "" {
		data, err := loader.NewTOMLLoader(tomlPath).Load()
		if err != nil {
			return RepositoryConfig{}, fmt.Errorf("loading %s: %w", tomlPath, err)
		}
		if data != nil {
			mgr.AddLayer(layer.NewLayerWithData("workspace", layer.SourceWorkspace, layer.PriorityWorkspace, data))
		}
	}

	envData, err := loader.NewEnvLoader(envPrefix).Load()
	if err != nil {
		return RepositoryConfig{}, fmt.Errorf("loading environment: %w", err)
	}
	if len(envData) > 0 {
		mgr.AddLayer(layer.NewLayerWithData("environment", layer.SourceEnv, layer.PriorityEnv, envData))
	}

	cfg := DefaultRepositoryConfig()
	applyMerged(&cfg, mgr.Merge())

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Root == "" {
		root, err := os.Getwd()
		if err != nil {
			return RepositoryConfig{}, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.Root = root
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return RepositoryConfig{}, fmt.Errorf("resolving repository root %s: %w", cfg.Root, err)
	}
	cfg.Root = abs

	return cfg, nil
}

func applyMerged(cfg *RepositoryConfig, merged map[string]any) {
	if v, ok := layer.GetByPath(merged, "repository.root"); ok {
		if s, ok := v.(string); ok {
			cfg.Root = s
		}
	}
	if v, ok := layer.GetByPath(merged, "repository.encoding"); ok {
		if s, ok := v.(string); ok {
			cfg.Encoding = s
		}
	}
	if v, ok := layer.GetByPath(merged, "repository.requestTimeout"); ok {
		if d, ok := durationFromAny(v); ok {
			cfg.RequestTimeout = d
		}
	}
	if v, ok := layer.GetByPath(merged, "cache.dir"); ok {
		if s, ok := v.(string); ok {
			cfg.CacheDir = s
		}
	}
	if v, ok := layer.GetByPath(merged, "cache.schemaVersion"); ok {
		if n, ok := intFromAny(v); ok {
			cfg.CacheSchemaVersion = n
		}
	}
	if v, ok := layer.GetByPath(merged, "cache.debounceInterval"); ok {
		if d, ok := durationFromAny(v); ok {
			cfg.CacheDebounce = d
		}
	}
	if v, ok := layer.GetByPath(merged, "cache.asyncEnabled"); ok {
		if b, ok := v.(bool); ok {
			cfg.CacheAsyncEnabled = b
		}
	}
	if v, ok := layer.GetByPath(merged, "rateLimit.requestsPerSecond"); ok {
		if f, ok := floatFromAny(v); ok {
			cfg.RateLimitRPS = f
		}
	}
	if v, ok := layer.GetByPath(merged, "rateLimit.burst"); ok {
		if n, ok := intFromAny(v); ok {
			cfg.RateLimitBurst = n
		}
	}
	if v, ok := layer.GetByPath(merged, "logging.level"); ok {
		if s, ok := v.(string); ok {
			cfg.LogLevel = s
		}
	}
}

func durationFromAny(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		return t, true
	case string:
		d, err := time.ParseDuration(t)
		return d, err == nil
	case int64:
		return time.Duration(t) * time.Second, true
	case float64:
		return time.Duration(t * float64(time.Second)), true
	default:
		return 0, false
	}
}

func intFromAny(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func floatFromAny(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
