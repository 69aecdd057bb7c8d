package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/app"
	"github.com/JakeFAU/vps-stock-monitor/internal/config"
	"github.com/JakeFAU/vps-stock-monitor/internal/logging"
)

// options are the command-line overrides. Only flags present on the command
// line replace config values.
type options struct {
	configPath     string
	mode           string
	targets        string
	statePath      string
	outputPath     string
	dryRun         bool
	timeoutSeconds float64
	maxWorkers     int
	daemon         bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("stockmonitor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to config file (YAML, TOML or JSON)")
	fs.StringVar(&o.mode, "mode", "", "Run mode: full or lite")
	fs.StringVar(&o.targets, "targets", "", "Comma-separated storefront URLs; disables pruning")
	fs.StringVar(&o.statePath, "state", "", "State document path")
	fs.StringVar(&o.outputPath, "output", "", "Dashboard output path")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Merge state without sending notifications")
	fs.Float64Var(&o.timeoutSeconds, "timeout-seconds", 0, "Per-request fetch timeout in seconds")
	fs.IntVar(&o.maxWorkers, "max-workers", 0, "Concurrent target crawls")
	fs.BoolVar(&o.daemon, "daemon", false, "Run on the configured schedule and serve the HTTP API")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply copies the flags that were set onto cfg and revalidates it.
func (o options) apply(cfg *config.Config) error {
	if o.set["mode"] {
		cfg.Run.Mode = o.mode
	}
	if o.set["targets"] {
		cfg.Run.Targets = splitTargets(o.targets)
	}
	if o.set["state"] {
		cfg.Run.StatePath = o.statePath
	}
	if o.set["output"] {
		cfg.Run.OutputPath = o.outputPath
	}
	if o.set["dry-run"] {
		cfg.Run.DryRun = o.dryRun
	}
	if o.set["timeout-seconds"] {
		cfg.Run.TimeoutSeconds = o.timeoutSeconds
	}
	if o.set["max-workers"] {
		cfg.Run.MaxWorkers = o.maxWorkers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func splitTargets(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	if err := opts.apply(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer logging.Sync(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init failed", zap.Error(err))
		return 1
	}
	defer svc.Close()

	if opts.daemon {
		if err := svc.Serve(ctx); err != nil {
			logger.Error("daemon stopped", zap.Error(err))
			return 1
		}
		return 0
	}

	summary, err := svc.RunOnce(ctx)
	switch {
	case errors.Is(err, app.ErrSkipped):
		return 0
	case err != nil:
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	logger.Info("run finished",
		zap.String("mode", cfg.Run.Mode),
		zap.Int("restocks", summary.Restocks),
		zap.Int("new_products", summary.NewProducts),
		zap.Int("domains_ok", summary.DomainsOK),
		zap.Int("domains_error", summary.DomainsError),
	)
	return 0
}
