package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// Crawler produces the DomainRun for one target.
type Crawler interface {
	Crawl(ctx context.Context, runID [16]byte, target string, allowExpansion bool) monitor.DomainRun
}

// RunIDSource mints run identifiers.
type RunIDSource interface {
	NewRaw() ([16]byte, error)
}

// Result is the outcome of one dispatched plan.
type Result struct {
	RunID      [16]byte
	StartedAt  time.Time
	FinishedAt time.Time
	// Raw holds one run per target in plan order.
	Raw []monitor.DomainRun
	// Runs holds one merged run per domain.
	Runs []monitor.DomainRun
}

// Dispatcher fans plan targets out to a fixed pool of workers.
type Dispatcher struct {
	crawler Crawler
	ids     RunIDSource
	clock   monitor.Clock
	emitter progress.Emitter
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher. A nil emitter discards progress events.
func New(crawler Crawler, ids RunIDSource, clock monitor.Clock, emitter progress.Emitter, workers int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{crawler: crawler, ids: ids, clock: clock, emitter: emitter, workers: workers, logger: logger}
}

// Run crawls every target of plan and blocks until all workers finish.
// Crawls never fail the run; only a run ID error is returned.
func (d *Dispatcher) Run(ctx context.Context, plan Plan) (Result, error) {
	runID, err := d.ids.NewRaw()
	if err != nil {
		return Result{}, fmt.Errorf("new run id: %w", err)
	}
	res := Result{RunID: runID, StartedAt: d.clock.Now(), Raw: make([]monitor.DomainRun, len(plan.Targets))}
	d.emitter.Emit(progress.Event{RunID: runID, TS: res.StartedAt, Stage: progress.StageRunStart})
	d.logger.Info("run start",
		zap.String("mode", string(plan.Mode)),
		zap.Int("targets", len(plan.Targets)),
		zap.Int("workers", d.workers),
		zap.Bool("allow_expansion", plan.AllowExpansion),
		zap.Bool("prune_missing", plan.PruneMissing),
		zap.Bool("prune_removed", plan.PruneRemoved),
	)

	jobs := make(chan int)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for range min(d.workers, max(1, len(plan.Targets))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				target := plan.Targets[i]
				metrics.IncActiveWorkers()
				run := d.crawl(ctx, runID, target, plan.AllowExpansion)
				metrics.DecActiveWorkers()
				res.Raw[i] = run

				mu.Lock()
				completed++
				done := completed
				mu.Unlock()
				d.logProgress(done, len(plan.Targets), target, run)
			}
		}()
	}
	for i := range plan.Targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	res.Runs = MergeByDomain(res.Raw)
	for _, run := range res.Runs {
		metrics.ObserveDomainRun(run)
	}
	res.FinishedAt = d.clock.Now()
	d.emitter.Emit(progress.Event{
		RunID: runID,
		TS:    res.FinishedAt,
		Stage: progress.StageRunDone,
		Dur:   res.FinishedAt.Sub(res.StartedAt),
	})
	d.logger.Info("run merged", zap.Int("target_runs", len(res.Raw)), zap.Int("domains", len(res.Runs)))
	return res, nil
}

// crawl isolates one target so a panic escaping the crawler only fails that target.
func (d *Dispatcher) crawl(ctx context.Context, runID [16]byte, target string, allowExpansion bool) (run monitor.DomainRun) {
	defer func() {
		if r := recover(); r != nil {
			run = monitor.DomainRun{Domain: urlnorm.Domain(target), Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return d.crawler.Crawl(ctx, runID, target, allowExpansion)
}

func (d *Dispatcher) logProgress(done, total int, target string, run monitor.DomainRun) {
	fields := []zap.Field{
		zap.String("progress", fmt.Sprintf("%d/%d", done, total)),
		zap.String("target", target),
		zap.String("domain", run.Domain),
		zap.Int64("duration_ms", run.DurationMS),
	}
	if !run.OK {
		d.logger.Warn("target failed", append(fields, zap.String("error", run.Error))...)
		return
	}
	var in, out int
	for _, p := range run.Products {
		switch p.Available {
		case monitor.InStock:
			in++
		case monitor.OutOfStock:
			out++
		}
	}
	d.logger.Info("target done", append(fields,
		zap.Int("products", len(run.Products)),
		zap.Int("in_stock", in),
		zap.Int("out_of_stock", out),
		zap.Int("unknown", len(run.Products)-in-out),
	)...)
}
