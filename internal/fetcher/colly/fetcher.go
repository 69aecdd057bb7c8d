// Package collyfetcher implements monitor.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// DefaultUserAgents rotate across requests when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// Config controls collector behavior.
type Config struct {
	UserAgents    []string
	Timeout       time.Duration
	Attempts      int
	MaxRetryAfter time.Duration
	ProxyURL      string
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	sleep         func(ctx context.Context, d time.Duration) error
	uaIndex       atomic.Uint64
	logger        *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the pooled HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = 5 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}

	f := &Fetcher{cfg: cfg, sleep: sleepWithContext, logger: logger.Named("colly")}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		base, err := newHTTPTransport(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		f.transport = &transientRetryTransport{base: base}
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(f.transport)
	f.baseCollector = c
	return f, nil
}

// Fetch executes a GET with retries on transient statuses and network errors.
// Any response in the 2xx or 3xx range is OK; other statuses keep their body
// so callers can inspect challenge pages.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) monitor.FetchResult {
	start := time.Now()
	var res monitor.FetchResult
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		var header http.Header
		res, header = f.fetchOnce(ctx, rawURL)
		last := attempt == f.cfg.Attempts
		if last || ctx.Err() != nil {
			break
		}
		if res.StatusCode != 0 && !shouldRetryStatus(res.StatusCode) {
			break
		}
		delay := f.backoff(attempt, header)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("status", res.StatusCode),
			zap.Duration("delay", delay),
		)
		if err := f.sleep(ctx, delay); err != nil {
			res.Err = err
			break
		}
	}

	outcome := "ok"
	switch {
	case res.StatusCode == 0:
		outcome = "error"
	case !res.OK:
		outcome = strconv.Itoa(res.StatusCode)
	}
	metrics.ObserveFetch(rawURL, outcome, len(res.Body), time.Since(start))
	return res
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (monitor.FetchResult, http.Header) {
	var (
		result   = monitor.FetchResult{URL: rawURL}
		header   http.Header
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, f.nextUserAgent(), &result, &header, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		result.OK = false
		result.Err = err
		return result, header
	}
	result.OK = result.StatusCode >= 200 && result.StatusCode < 400
	if !result.OK {
		result.Err = fmt.Errorf("status %d", result.StatusCode)
	}
	return result, header
}

// buildCollector clones the base collector. The clone shares the HTTP backend,
// so timeout and transport are only ever set on the base.
func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	userAgent string,
	result *monitor.FetchResult,
	header *http.Header,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Pragma", "no-cache")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.FinalURL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Body = string(r.Body)
		if r.Headers != nil {
			*header = r.Headers.Clone()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) nextUserAgent() string {
	i := f.uaIndex.Add(1) - 1
	return f.cfg.UserAgents[i%uint64(len(f.cfg.UserAgents))]
}

// backoff honors Retry-After up to MaxRetryAfter, otherwise grows linearly
// with a little jitter and a 2.5s cap.
func (f *Fetcher) backoff(attempt int, header http.Header) time.Duration {
	if d, ok := parseRetryAfter(header.Get("Retry-After"), time.Now()); ok {
		return min(max(d, 0), f.cfg.MaxRetryAfter)
	}
	base := min(2500*time.Millisecond, time.Duration(attempt)*350*time.Millisecond)
	return base + time.Duration(rand.Int64N(int64(150*time.Millisecond)))
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return at.Sub(now), true
	}
	return 0, false
}

func shouldRetryStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooEarly ||
		code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport(proxyURL string) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, errors.Join(errors.New("invalid proxy url"), err)
		}
		proxy = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}
