package main

import (
	"errors"
	"flag"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		Run: config.RunConfig{
			Mode:           "full",
			StatePath:      "data/state.json",
			OutputPath:     "docs/index.html",
			TimeoutSeconds: 25,
			MaxWorkers:     8,
		},
		Fetch:    config.FetchConfig{Attempts: 2, Relay: config.RelayConfig{Mode: "listing"}},
		Domains:  config.DomainsConfig{Targets: []string{"https://shop.example/"}},
		Server:   config.ServerConfig{Port: 8080},
		Schedule: config.ScheduleConfig{Cron: "*/30 * * * *"},
	}
}

// TestApplyOnlySetFlags ensures unset flags never clobber config values.
func TestApplyOnlySetFlags(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"-mode", "lite", "-dry-run"}, io.Discard)
	require.NoError(t, err)

	cfg := baseConfig()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, "lite", cfg.Run.Mode)
	require.True(t, cfg.Run.DryRun)
	require.Equal(t, 8, cfg.Run.MaxWorkers)
	require.Equal(t, "data/state.json", cfg.Run.StatePath)
	require.Empty(t, cfg.Run.Targets)
}

// TestApplyTargetsAndLimits ensures CSV targets and numeric limits are copied.
func TestApplyTargetsAndLimits(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{
		"-targets", " https://a.example/ ,,https://b.example/store",
		"-timeout-seconds", "7.5",
		"-max-workers", "2",
		"-state", "/tmp/s.json",
		"-output", "/tmp/site/index.html",
		"-daemon",
	}, io.Discard)
	require.NoError(t, err)
	require.True(t, opts.daemon)

	cfg := baseConfig()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, []string{"https://a.example/", "https://b.example/store"}, cfg.Targets())
	require.Equal(t, 7.5, cfg.Run.TimeoutSeconds)
	require.Equal(t, 2, cfg.Run.MaxWorkers)
	require.Equal(t, "/tmp/s.json", cfg.Run.StatePath)
	require.Equal(t, "/tmp/site/index.html", cfg.Run.OutputPath)
}

// TestApplyRejectsInvalidOverrides ensures overrides are validated like config.
func TestApplyRejectsInvalidOverrides(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"-mode", "turbo"}, io.Discard)
	require.NoError(t, err)

	cfg := baseConfig()
	err = opts.apply(&cfg)
	if err == nil || !strings.Contains(err.Error(), "run.mode") {
		t.Fatalf("expected run.mode error, got %v", err)
	}
}

// TestParseFlagsErrors ensures stray arguments and help are reported.
func TestParseFlagsErrors(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"extra"}, io.Discard)
	require.ErrorContains(t, err, "unexpected arguments")

	_, err = parseFlags([]string{"-h"}, io.Discard)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
}
