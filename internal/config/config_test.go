package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/lspproxy/internal/lsp"
)

func TestDefaultRepositoryConfig(t *testing.T) {
	cfg := DefaultRepositoryConfig()

	if cfg.Encoding != "utf-8" {
		t.Errorf("Encoding = %q, want utf-8", cfg.Encoding)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.CacheSchemaVersion != 1 {
		t.Errorf("CacheSchemaVersion = %d, want 1", cfg.CacheSchemaVersion)
	}
	if !cfg.CacheAsyncEnabled {
		t.Error("CacheAsyncEnabled = false, want true")
	}
	if cfg.RateLimitRPS != 50 {
		t.Errorf("RateLimitRPS = %v, want 50", cfg.RateLimitRPS)
	}
	if cfg.Servers == nil {
		t.Error("Servers map should be initialized, not nil")
	}
}

func TestLoad_NoFileNoEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Root == "" {
		t.Error("Root should default to the working directory")
	}
	if !filepath.IsAbs(cfg.Root) {
		t.Errorf("Root = %q, want an absolute path", cfg.Root)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "lspproxy.toml")
	contents := `
[repository]
encoding = "utf-16"

[cache]
dir = "/tmp/lspproxy-cache"
schemaVersion = 2

[rateLimit]
requestsPerSecond = 10
burst = 5

[logging]
level = "warn"
`
	if err := os.WriteFile(tomlPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Encoding != "utf-16" {
		t.Errorf("Encoding = %q, want utf-16", cfg.Encoding)
	}
	if cfg.CacheDir != "/tmp/lspproxy-cache" {
		t.Errorf("CacheDir = %q, want /tmp/lspproxy-cache", cfg.CacheDir)
	}
	if cfg.CacheSchemaVersion != 2 {
		t.Errorf("CacheSchemaVersion = %d, want 2", cfg.CacheSchemaVersion)
	}
	if cfg.RateLimitRPS != 10 {
		t.Errorf("RateLimitRPS = %v, want 10", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 5 {
		t.Errorf("RateLimitBurst = %d, want 5", cfg.RateLimitBurst)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad_MissingTOMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load should ignore a missing config file, got: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want the default info", cfg.LogLevel)
	}
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "lspproxy.toml")
	if err := os.WriteFile(tomlPath, []byte("[logging]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	os.Setenv("LSPPROXY_LOG_LEVEL", "debug")
	defer os.Unsetenv("LSPPROXY_LOG_LEVEL")

	cfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (env should win over TOML)", cfg.LogLevel)
	}
}

func TestLoad_OptionsOverrideEverything(t *testing.T) {
	os.Setenv("LSPPROXY_LOG_LEVEL", "debug")
	defer os.Unsetenv("LSPPROXY_LOG_LEVEL")

	cfg, err := Load("", WithLogLevel("error"), WithRoot("/srv/repo"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (options should win over env)", cfg.LogLevel)
	}
	if cfg.Root != "/srv/repo" {
		t.Errorf("Root = %q, want /srv/repo", cfg.Root)
	}
}

func TestWithServer(t *testing.T) {
	sc := lsp.ServerConfig{Command: "gopls", Args: []string{"serve"}}
	cfg, err := Load("", WithServer("go", sc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := cfg.Servers["go"]
	if !ok {
		t.Fatal("Servers[\"go\"] missing")
	}
	if got.Command != "gopls" {
		t.Errorf("Servers[\"go\"].Command = %q, want gopls", got.Command)
	}
}

func TestDurationFromAny(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
		ok   bool
	}{
		{"2s", 2 * time.Second, true},
		{int64(5), 5 * time.Second, true},
		{float64(1.5), 1500 * time.Millisecond, true},
		{time.Millisecond, time.Millisecond, true},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := durationFromAny(tt.in)
		if ok != tt.ok {
			t.Errorf("durationFromAny(%v) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("durationFromAny(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
