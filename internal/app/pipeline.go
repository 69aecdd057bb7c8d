package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/dashboard"
	"github.com/JakeFAU/vps-stock-monitor/internal/id/uuid"
	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/reconcile"
	"github.com/JakeFAU/vps-stock-monitor/internal/runlock"
	"github.com/JakeFAU/vps-stock-monitor/internal/scheduler"
	"github.com/JakeFAU/vps-stock-monitor/internal/state"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/postgres"
)

// ErrSkipped reports that another pass held the run lock.
var ErrSkipped = errors.New("run skipped: lock held")

// Artifact names published after every save.
const (
	StateArtifact     = "state.json"
	DashboardArtifact = "index.html"
)

// RunOnce performs one full pass: load state, crawl the plan, reconcile,
// save, then publish the dashboard. Only a failed save is fatal; history and
// publishing failures are logged.
func (a *App) RunOnce(ctx context.Context) (monitor.Summary, error) {
	if a.locker != nil {
		release, err := a.locker.Acquire(ctx, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL)
		if errors.Is(err, runlock.ErrHeld) {
			a.logger.Warn("another pass holds the run lock", zap.String("key", a.cfg.Redis.LockKey))
			return monitor.Summary{}, ErrSkipped
		}
		if err != nil {
			return monitor.Summary{}, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	prev := a.store.Load(ctx)
	plan := scheduler.Select(a.cfg.Mode(), a.cfg.Run.Targets, a.cfg.Domains.Targets, prev)
	if len(plan.Targets) == 0 {
		return monitor.Summary{}, errors.New("no targets to crawl")
	}

	res, err := a.dispatcher.Run(ctx, plan)
	if err != nil {
		return monitor.Summary{}, err
	}
	runID := uuid.String(res.RunID)
	logger := a.logger.With(zap.String("run_id", runID))

	// Reconcile and persist even when ctx was cancelled mid-crawl; the
	// partial runs are already marked incomplete.
	persistCtx := context.WithoutCancel(ctx)
	next, summary := a.reconciler(runID, logger).Apply(persistCtx, prev, res.Runs, reconcile.Options{
		PruneMissing:        plan.PruneMissing,
		PruneRemovedDomains: plan.PruneRemoved,
		ActiveDomains:       plan.ActiveDomains,
		DryRun:              a.cfg.Run.DryRun,
		StartedAt:           res.StartedAt,
	})

	if err := a.store.Save(persistCtx, next); err != nil {
		return summary, fmt.Errorf("save state: %w", err)
	}
	saved := a.store.Load(persistCtx)
	a.latest.Set(saved, summary)

	a.recordHistory(persistCtx, runID, res, logger)
	a.publish(persistCtx, saved, summary, logger)

	logger.Info("pass complete",
		zap.String("mode", string(plan.Mode)),
		zap.Int("domains_ok", summary.DomainsOK),
		zap.Int("domains_error", summary.DomainsError),
		zap.Int("new_products", summary.NewProducts),
		zap.Int("restocks", summary.Restocks),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (a *App) reconciler(runID string, logger *zap.Logger) *reconcile.Reconciler {
	opts := []reconcile.Option{reconcile.WithObserver(metrics.Notifications{})}
	if a.history != nil {
		opts = append(opts, reconcile.WithObserver(postgres.EventRecorder{
			Store: a.history,
			RunID: runID,
			OnFail: func(err error) {
				logger.Warn("record event failed", zap.Error(err))
			},
		}))
	}
	return reconcile.New(a.notifier, a.clock, logger.Named("reconcile"), opts...)
}

func (a *App) recordHistory(ctx context.Context, runID string, res scheduler.Result, logger *zap.Logger) {
	if a.history == nil {
		return
	}
	for _, run := range res.Runs {
		if err := a.history.RecordRun(ctx, runID, res.StartedAt, run); err != nil {
			logger.Warn("record run failed", zap.String("domain", run.Domain), zap.Error(err))
		}
	}
}

// publish renders the dashboard and uploads it with the state document.
func (a *App) publish(ctx context.Context, st monitor.State, summary monitor.Summary, logger *zap.Logger) {
	page, err := dashboard.Render(st, summary)
	if err != nil {
		logger.Warn("render dashboard failed", zap.Error(err))
		return
	}

	if a.output != nil {
		name := filepath.Base(a.cfg.Run.OutputPath)
		if _, err := a.output.PutObject(ctx, name, storage.ContentTypeHTML, bytes.NewReader(page)); err != nil {
			logger.Warn("write dashboard failed", zap.Error(err))
		}
	}

	if len(a.remote) == 0 {
		return
	}
	doc, err := state.Encode(st)
	if err != nil {
		logger.Warn("encode state for publish failed", zap.Error(err))
		return
	}
	uris, err := storage.PublishAll(ctx, a.remote,
		storage.Artifact{Path: DashboardArtifact, ContentType: storage.ContentTypeHTML, Data: page},
		storage.Artifact{Path: StateArtifact, ContentType: storage.ContentTypeJSON, Data: doc},
	)
	if err != nil {
		logger.Warn("publish artifacts failed", zap.Error(err))
	}
	if len(uris) > 0 {
		logger.Info("artifacts published", zap.Strings("uris", uris))
	}
}
