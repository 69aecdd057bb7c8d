// Package app initializes and holds the long-lived monitor services and runs
// the load, crawl, reconcile and save pipeline on top of them.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/api"
	"github.com/JakeFAU/vps-stock-monitor/internal/clock/system"
	"github.com/JakeFAU/vps-stock-monitor/internal/config"
	"github.com/JakeFAU/vps-stock-monitor/internal/extractor"
	collyfetcher "github.com/JakeFAU/vps-stock-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/vps-stock-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/vps-stock-monitor/internal/fetcher/tiered"
	"github.com/JakeFAU/vps-stock-monitor/internal/hash/sha256"
	"github.com/JakeFAU/vps-stock-monitor/internal/headless/detector"
	"github.com/JakeFAU/vps-stock-monitor/internal/id/uuid"
	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/notify"
	notifypubsub "github.com/JakeFAU/vps-stock-monitor/internal/notify/pubsub"
	"github.com/JakeFAU/vps-stock-monitor/internal/notify/telegram"
	"github.com/JakeFAU/vps-stock-monitor/internal/orchestrator"
	"github.com/JakeFAU/vps-stock-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/vps-stock-monitor/internal/policy/relay"
	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
	"github.com/JakeFAU/vps-stock-monitor/internal/progress/sinks"
	"github.com/JakeFAU/vps-stock-monitor/internal/runlock"
	"github.com/JakeFAU/vps-stock-monitor/internal/scheduler"
	"github.com/JakeFAU/vps-stock-monitor/internal/state"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/gcs"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/local"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/memory"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/postgres"
)

// Locker guards one pass per state document.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (runlock.ReleaseFunc, error)
}

// Services are the network-facing dependencies. New builds them from config;
// tests supply fakes through NewWithServices.
type Services struct {
	Fetcher  monitor.Fetcher
	Notifier monitor.Notifier
	Clock    monitor.Clock
	// Output receives the dashboard under the base name of run.output_path.
	Output storage.ArtifactStore
	// Remote receives index.html and state.json after every save.
	Remote  []storage.ArtifactStore
	History *postgres.HistoryStore
	Locker  Locker
}

// App holds the shared services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      monitor.Clock
	store      *state.Store
	dispatcher *scheduler.Dispatcher
	notifier   monitor.Notifier
	output     storage.ArtifactStore
	remote     []storage.ArtifactStore
	history    *postgres.HistoryStore
	locker     Locker
	latest     *api.Latest
	running    atomic.Bool
	passes     sync.WaitGroup
	closers    []func()
}

// New creates the App from cfg, connecting every optional backend that is
// configured. Optional backends that fail to start are logged and skipped.
// Dry runs keep remote artifacts in memory instead of uploading them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func()
	svc := Services{Clock: system.New()}

	fetcher, fetchClosers, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc.Fetcher = fetcher
	closers = append(closers, fetchClosers...)

	notifier, notifyClosers := newNotifier(ctx, cfg, logger)
	svc.Notifier = notifier
	closers = append(closers, notifyClosers...)

	output, err := local.New(local.Config{BaseDir: filepath.Dir(cfg.Run.OutputPath)})
	if err != nil {
		return nil, fmt.Errorf("init dashboard output: %w", err)
	}
	svc.Output = output

	switch {
	case cfg.Run.DryRun:
		svc.Remote = append(svc.Remote, memory.NewBlobStore())
	case cfg.GCS.Bucket != "":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs disabled", zap.Error(err))
		} else if store, err := gcs.New(client, cfg.GCS); err != nil {
			logger.Warn("gcs disabled", zap.Error(err))
			_ = client.Close()
		} else {
			logger.Info("publishing artifacts to gcs", zap.String("bucket", cfg.GCS.Bucket))
			svc.Remote = append(svc.Remote, store)
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	if cfg.Postgres.DSN != "" {
		history, err := postgres.NewHistoryStore(ctx, cfg.Postgres)
		if err == nil {
			err = history.EnsureSchema(ctx)
			if err != nil {
				history.Close()
			}
		}
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			svc.History = history
			closers = append(closers, history.Close)
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.Locker = runlock.New(client, logger)
		closers = append(closers, func() { _ = client.Close() })
	}

	a := NewWithServices(cfg, logger, svc)
	a.closers = append(closers, a.closers...)
	return a, nil
}

// NewWithServices wires the pipeline around svc.
func NewWithServices(cfg config.Config, logger *zap.Logger, svc Services) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc.Clock == nil {
		svc.Clock = system.New()
	}

	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if promSink, err := sinks.NewPrometheusSink(nil); err != nil {
		logger.Debug("progress prometheus sink skipped", zap.Error(err))
	} else {
		progressSinks = append(progressSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	ids := uuid.New()
	registry := extractor.NewRegistry(nil, cfg.Domains.StoreAPIs)
	orch := orchestrator.New(
		svc.Fetcher,
		registry,
		cfg.Sites(),
		svc.Clock,
		cfg.Orchestrator(),
		logger.Named("orchestrator"),
		orchestrator.WithEmitter(hub),
		orchestrator.WithProbeObserver(metrics.Probes{}),
		orchestrator.WithHasher(sha256.New()),
	)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		clock:      svc.Clock,
		store:      state.New(cfg.Run.StatePath, svc.Clock, logger.Named("state")),
		dispatcher: scheduler.New(orch, ids, svc.Clock, hub, cfg.Run.MaxWorkers, logger.Named("scheduler")),
		notifier:   svc.Notifier,
		output:     svc.Output,
		remote:     svc.Remote,
		history:    svc.History,
		locker:     svc.Locker,
		latest:     &api.Latest{},
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(ctx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := hub.Dropped(); dropped > 0 {
			logger.Warn("progress events dropped during process lifetime", zap.Int64("dropped", dropped))
		}
	})
	return a
}

// Latest exposes the last reconciled pass.
func (a *App) Latest() *api.Latest {
	return a.latest
}

// Close releases every backend in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newFetcher builds colly behind the politeness limiter, the block detector
// and, when enabled, the headless relay.
func newFetcher(cfg config.Config, logger *zap.Logger) (monitor.Fetcher, []func(), error) {
	direct, err := collyfetcher.New(collyfetcher.Config{
		UserAgents:    cfg.Fetch.UserAgents,
		Timeout:       cfg.FetchTimeout(),
		Attempts:      cfg.Fetch.Attempts,
		MaxRetryAfter: cfg.Fetch.MaxRetryAfter,
		ProxyURL:      cfg.Fetch.ProxyURL,
	}, logger.Named("fetch"))
	if err != nil {
		return nil, nil, fmt.Errorf("init page fetcher: %w", err)
	}

	opts := []tiered.Option{
		tiered.WithLimiter(ratelimit.New(cfg.RateLimit())),
		tiered.WithDetector(detector.NewHeuristic(0)),
		tiered.WithLogger(logger.Named("fetch")),
	}
	var closers []func()
	mode := relay.Mode(cfg.Fetch.Relay.Mode)
	if cfg.Fetch.Relay.Enabled && mode != relay.ModeOff {
		userAgent := ""
		if len(cfg.Fetch.UserAgents) > 0 {
			userAgent = cfg.Fetch.UserAgents[0]
		}
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Fetch.Relay.MaxParallel,
			UserAgent:         userAgent,
			ProxyURL:          cfg.Fetch.ProxyURL,
			NavigationTimeout: cfg.Fetch.Relay.NavigationTimeout,
			ChallengeWait:     cfg.Fetch.Relay.ChallengeWait,
		})
		if err != nil {
			logger.Warn("headless relay unavailable", zap.Error(err))
			opts = append(opts, tiered.WithRelay(headless.NewNoop(), relay.New(mode)))
		} else {
			logger.Info("headless relay enabled", zap.String("mode", string(mode)))
			opts = append(opts, tiered.WithRelay(browser, relay.New(mode)))
			closers = append(closers, browser.Close)
		}
	}
	return tiered.New(direct, opts...), closers, nil
}

// newNotifier fans out to every configured sink. It returns nil when none is
// configured, which disables notifications without stamping state.
func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.Notifier, []func()) {
	var (
		targets notify.Multi
		closers []func()
	)
	if cfg.Telegram.Enabled() {
		targets = append(targets, telegram.New(cfg.Telegram, nil, logger.Named("telegram")))
	}
	if cfg.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Warn("pubsub notifier disabled", zap.Error(err))
		} else {
			topic := client.Topic(cfg.PubSub.TopicName)
			targets = append(targets, notifypubsub.New(notifypubsub.NewTopicPublisher(topic), logger.Named("pubsub")))
			closers = append(closers, func() {
				topic.Stop()
				_ = client.Close()
			})
		}
	}
	if len(targets) == 0 {
		logger.Info("no notification sink configured")
		return nil, closers
	}
	return targets, closers
}
