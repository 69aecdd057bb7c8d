package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/api"
)

const shutdownTimeout = 30 * time.Second

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Serve runs passes on the configured cron schedule and serves the HTTP API
// until ctx is cancelled. A first pass starts immediately.
func (a *App) Serve(ctx context.Context) error {
	cl := cronLogger{sugar: a.logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	if _, err := c.AddFunc(a.cfg.Schedule.Cron, func() {
		if !a.startPass(ctx) {
			a.logger.Info("scheduled pass skipped, previous pass still running")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", a.cfg.Schedule.Cron, err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewServer(a.latest, a.Trigger(ctx), api.Config{APIKey: a.cfg.Server.APIKey}, a.logger.Named("api")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	a.startPass(ctx)
	c.Start()
	a.logger.Info("daemon started", zap.String("schedule", a.cfg.Schedule.Cron))

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("api server: %w", err)
		}
	}

	a.logger.Info("daemon stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Warn("api shutdown failed", zap.Error(shutdownErr))
	}
	<-c.Stop().Done()
	a.passes.Wait()
	return err
}

// Trigger returns an api.Trigger that starts a background pass unless one is
// already running.
func (a *App) Trigger(ctx context.Context) api.Trigger {
	return func() error {
		if !a.startPass(ctx) {
			return api.ErrRunInProgress
		}
		return nil
	}
}

// startPass launches RunOnce in the background. It reports false when a
// pass is already in flight.
func (a *App) startPass(ctx context.Context) bool {
	if !a.running.CompareAndSwap(false, true) {
		return false
	}
	a.passes.Add(1)
	go func() {
		defer a.passes.Done()
		defer a.running.Store(false)
		if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, ErrSkipped) {
			a.logger.Error("pass failed", zap.Error(err))
		}
	}()
	return true
}
