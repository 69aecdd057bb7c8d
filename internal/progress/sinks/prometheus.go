package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
)

// PrometheusSink exports crawl progress: domains started, finished and in
// flight, per-domain runtime, and pages and products per expansion stage.
type PrometheusSink struct {
	domainsStarted   prometheus.Counter
	domainsCompleted *prometheus.CounterVec
	domainsRunning   prometheus.Gauge
	domainRuntime    *prometheus.HistogramVec

	stagePages    *prometheus.CounterVec
	stageProducts *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec

	tracker *domainTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		domainsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockmon_domains_started_total",
			Help: "Domain crawls started.",
		}),
		domainsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmon_domains_completed_total",
			Help: "Domain crawls finished, partitioned by result.",
		}, []string{"result"}),
		domainsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockmon_domains_running",
			Help: "Domain crawls in flight.",
		}),
		domainRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockmon_domain_runtime_seconds",
			Help:    "Wall time per domain crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 210, 300, 600},
		}, []string{"result"}),
		stagePages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmon_stage_pages_total",
			Help: "Pages fetched (probes for the hidden scan) per domain and stage.",
		}, []string{"domain", "stage"}),
		stageProducts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmon_stage_products",
			Help: "Products known after the last completed stage per domain.",
		}, []string{"domain", "stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockmon_stage_duration_seconds",
			Help:    "Duration of expansion stages.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 180},
		}, []string{"stage"}),
		tracker: newDomainTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.domainsStarted,
		s.domainsCompleted,
		s.domainsRunning,
		s.domainRuntime,
		s.stagePages,
		s.stageProducts,
		s.stageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageDomainStart:
		s.domainsStarted.Inc()
		if s.tracker.start(evt.RunID, evt.Domain) {
			s.domainsRunning.Inc()
		}
	case progress.StageDomainDone:
		s.finish(evt, "success")
	case progress.StageDomainError:
		s.finish(evt, "error")
	case progress.StageDiscovery, progress.StageHiddenScan, progress.StageEnrich:
		stage := string(evt.Stage)
		if evt.Pages > 0 {
			s.stagePages.WithLabelValues(evt.Domain, stage).Add(float64(evt.Pages))
		}
		s.stageProducts.WithLabelValues(evt.Domain, stage).Set(float64(evt.Products))
		if evt.Dur > 0 {
			s.stageDuration.WithLabelValues(stage).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.domainsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.domainRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID, evt.Domain) {
		s.domainsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type domainKey struct {
	run    [16]byte
	domain string
}

type domainTracker struct {
	mu      sync.Mutex
	running map[domainKey]struct{}
}

func newDomainTracker() *domainTracker {
	return &domainTracker{running: make(map[domainKey]struct{})}
}

func (t *domainTracker) start(run [16]byte, domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := domainKey{run: run, domain: domain}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *domainTracker) complete(run [16]byte, domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := domainKey{run: run, domain: domain}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
