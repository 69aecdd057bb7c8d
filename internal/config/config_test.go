package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/extractor"
	"github.com/JakeFAU/vps-stock-monitor/internal/scheduler"
)

// TestLoadDefaults ensures an empty load yields the documented defaults.
func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, scheduler.ModeFull, cfg.Mode())
	require.Equal(t, "data/state.json", cfg.Run.StatePath)
	require.Equal(t, "docs/index.html", cfg.Run.OutputPath)
	require.Equal(t, 8, cfg.Run.MaxWorkers)
	require.Equal(t, 25*time.Second, cfg.FetchTimeout())
	require.Equal(t, DefaultTargets(), cfg.Targets())
	require.Equal(t, 40, cfg.Discovery.MaxPages)
	require.Equal(t, 128, cfg.Discovery.MaxPagesWHMCS)
	require.Equal(t, 12, cfg.Scanner.BatchSize)
	require.Equal(t, 30, cfg.Scanner.ItemStopAfterNoInfo)
	require.Equal(t, 40, cfg.Enrich.Pages)
	require.Equal(t, 20*time.Second, cfg.Enrich.MinRemaining)
	require.Len(t, cfg.Sites().Extra("my.rfchost.com"), 2)
	require.Len(t, cfg.Domains.StoreAPIs, 2)

	orch := cfg.Orchestrator()
	if orch.TargetBudget != 210*time.Second || orch.HiddenBudget != 180*time.Second {
		t.Fatalf("expected 210s/180s budgets, got %v/%v", orch.TargetBudget, orch.HiddenBudget)
	}
	require.Equal(t, []string{"cloud.tizz.yt"}, orch.HiddenScanDenylist)
}

// TestLoadWithFileOverrides ensures YAML values replace defaults section by section.
func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
run:
  mode: lite
  targets: ["https://shop.example/", "https://other.example/store"]
  state_path: /tmp/state.json
  timeout_seconds: 12.5
  max_workers: 3
  target_budget: 90s
fetch:
  rps: 1.5
  host_rates:
    - host: shop.example
      rps: 0.5
  relay:
    enabled: true
    mode: all
    max_parallel: 1
scanner:
  batch_size: 4
discovery:
  max_pages: 10
domains:
  extra_pages:
    - domain: shop.example
      pages: ["https://shop.example/cart.php"]
  store_apis:
    - domain: api.example
      currency: USD
telegram:
  token: tok
  chat_id: "42"
schedule:
  cron: "@every 10m"
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode() != scheduler.ModeLite {
		t.Fatalf("expected lite mode, got %q", cfg.Run.Mode)
	}
	require.Equal(t, []string{"https://shop.example/", "https://other.example/store"}, cfg.Targets())
	require.Equal(t, 12500*time.Millisecond, cfg.FetchTimeout())
	require.Equal(t, 90*time.Second, cfg.Orchestrator().TargetBudget)
	require.Equal(t, 180*time.Second, cfg.Orchestrator().HiddenBudget)
	require.Equal(t, 4, cfg.Scanner.BatchSize)
	require.Equal(t, 50, cfg.Scanner.StopAfterRedirectSignature)
	require.Equal(t, 10, cfg.Orchestrator().Discovery.MaxPages)
	require.Equal(t, []string{"https://shop.example/cart.php"}, cfg.Sites().Extra("shop.example"))
	require.Empty(t, cfg.Sites().Extra("my.rfchost.com"))
	require.Equal(t, "USD", cfg.Domains.StoreAPIs[0].Currency)

	limits := cfg.RateLimit()
	require.Equal(t, 1.5, limits.DefaultRPS)
	require.Equal(t, map[string]float64{"shop.example": 0.5}, limits.HostRPS)
	if !cfg.Fetch.Relay.Enabled || cfg.Fetch.Relay.Mode != "all" {
		t.Fatalf("expected relay overrides to apply, got %+v", cfg.Fetch.Relay)
	}
	if !cfg.Telegram.Enabled() || cfg.Telegram.ChatID != "42" {
		t.Fatalf("expected telegram to be enabled, got %+v", cfg.Telegram)
	}
	require.True(t, cfg.Logging.Development)
}

// TestLoadEnvOverrides ensures STOCKMON_ variables and the bot credential
// variables reach the config.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STOCKMON_RUN_MAX_WORKERS", "3")
	t.Setenv("STOCKMON_DISCOVERY_MAX_PAGES", "7")
	t.Setenv("STOCKMON_RUN_TARGETS", "https://a.example/,https://b.example/")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "99")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Run.MaxWorkers)
	require.Equal(t, 7, cfg.Discovery.MaxPages)
	require.Equal(t, []string{"https://a.example/", "https://b.example/"}, cfg.Targets())
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "99", cfg.Telegram.ChatID)
}

// TestLoadRejectsUnknownMode ensures validation runs before any crawl.
func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  mode: turbo\n"), 0o600))

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "run.mode") {
		t.Fatalf("expected run.mode error, got %v", err)
	}
}

// TestLoadMissingFile ensures an explicit path must exist.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Run: RunConfig{
			Mode:           "full",
			StatePath:      "state.json",
			TimeoutSeconds: 10,
			MaxWorkers:     2,
		},
		Fetch:    FetchConfig{Attempts: 1, Relay: RelayConfig{Mode: "listing"}},
		Domains:  DomainsConfig{Targets: []string{"https://shop.example/"}},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{Cron: "*/30 * * * *"},
	}
}

// TestConfigValidateErrors ensures each guard names the offending key.
func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Run.Mode = "turbo" }, "run.mode"},
		{"zero timeout", func(c *Config) { c.Run.TimeoutSeconds = 0 }, "run.timeout_seconds"},
		{"zero workers", func(c *Config) { c.Run.MaxWorkers = 0 }, "run.max_workers"},
		{"negative budget", func(c *Config) { c.Run.HiddenBudget = -time.Second }, "run.target_budget"},
		{"missing state path", func(c *Config) { c.Run.StatePath = " " }, "run.state_path"},
		{"malformed target", func(c *Config) { c.Domains.Targets = []string{"shop.example"} }, "targets"},
		{"no targets", func(c *Config) { c.Domains.Targets = nil }, "targets"},
		{"zero attempts", func(c *Config) { c.Fetch.Attempts = 0 }, "fetch.attempts"},
		{"relay mode", func(c *Config) { c.Fetch.Relay.Mode = "sometimes" }, "fetch.relay.mode"},
		{"relay parallel", func(c *Config) { c.Fetch.Relay.Enabled = true }, "fetch.relay.max_parallel"},
		{"store api domain", func(c *Config) { c.Domains.StoreAPIs = []extractor.StoreAPIConfig{{Domain: " "}} }, "domains.store_apis"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"cron", func(c *Config) { c.Schedule.Cron = "every tuesday" }, "schedule.cron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
