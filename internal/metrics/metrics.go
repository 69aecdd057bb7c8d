// Package metrics exposes Prometheus collectors for the stock monitor.
package metrics

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

var (
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchTransportRetriesTotal prometheus.Counter
	relayFetchesTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	hiddenProbesTotal          *prometheus.CounterVec
	domainRunsTotal            *prometheus.CounterVec
	domainRunDurationSeconds   *prometheus.HistogramVec
	domainProducts             *prometheus.GaugeVec
	notificationsTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times, and every
// Observe helper calls it, so tests need no setup.
func Init() {
	once.Do(func() {
		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_fetch_pages_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_fetch_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockmon_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"outcome"},
		)

		fetchTransportRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stockmon_fetch_transport_retries_total",
				Help: "Round trips retried after a transient TLS or dial timeout.",
			},
		)

		relayFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_relay_fetches_total",
				Help: "Blocked pages retried through the headless relay, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockmon_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		hiddenProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_hidden_probes_total",
				Help: "Hidden identifier probes, labeled by domain, kind and whether evidence was found.",
			},
			[]string{"domain", "kind", "evidence"},
		)

		domainRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_domain_runs_total",
				Help: "Domain crawls, labeled by status and completeness.",
			},
			[]string{"status", "complete"},
		)

		domainRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockmon_domain_run_duration_seconds",
				Help:    "Histogram of per-domain crawl durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 210, 300},
			},
			[]string{"status"},
		)

		domainProducts = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockmon_domain_products",
				Help: "Products returned by the latest successful crawl of a domain.",
			},
			[]string{"domain"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockmon_notifications_total",
				Help: "Notification attempts, labeled by kind and delivery result.",
			},
			[]string{"kind", "delivered"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockmon_active_workers",
				Help: "Number of workers currently crawling a target.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed page fetch.
func ObserveFetch(site, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTransportRetry increments the transient round-trip retry counter.
func ObserveTransportRetry() {
	Init()
	fetchTransportRetriesTotal.Inc()
}

// ObserveRelay records a headless relay attempt.
func ObserveRelay(outcome string) {
	Init()
	relayFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDomainRun records the outcome of one merged domain run.
func ObserveDomainRun(run monitor.DomainRun) {
	Init()
	status := "ok"
	if !run.OK {
		status = "error"
	}
	domainRunsTotal.WithLabelValues(status, strconv.FormatBool(run.Meta.Complete())).Inc()
	domainRunDurationSeconds.WithLabelValues(status).Observe(float64(run.DurationMS) / 1000)
	if run.OK {
		domainProducts.WithLabelValues(run.Domain).Set(float64(len(run.Products)))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// Probes adapts the probe counter to the scanner's observer hook.
type Probes struct{}

// ObserveProbe implements scanner.ProbeObserver.
func (Probes) ObserveProbe(domain, kind string, evidence bool) {
	Init()
	hiddenProbesTotal.WithLabelValues(domain, kind, strconv.FormatBool(evidence)).Inc()
}

// Notifications adapts the notification counter to the reconciler's observer hook.
type Notifications struct{}

// ObserveEvent implements reconcile.EventObserver.
func (Notifications) ObserveEvent(_ context.Context, evt monitor.Event, delivered bool) {
	Init()
	notificationsTotal.WithLabelValues(string(evt.Kind), strconv.FormatBool(delivered)).Inc()
}
