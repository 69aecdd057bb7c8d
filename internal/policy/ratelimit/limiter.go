// Package ratelimit implements per-host token buckets so concurrent discovery,
// scanning and enrichment stay polite toward a single storefront.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
)

// Config holds rate limiter configuration. HostRPS overrides DefaultRPS for
// individual hosts; a non-positive rate disables limiting.
type Config struct {
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	HostRPS      map[string]float64 `mapstructure:"host_rps"`
}

// Limiter hands out one token bucket per host. Buckets are created on first
// use and live for the process.
type Limiter struct {
	burst     int
	fallback  rate.Limit
	overrides map[string]rate.Limit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{
		burst:     max(cfg.DefaultBurst, 1),
		fallback:  limitFor(cfg.DefaultRPS),
		overrides: make(map[string]rate.Limit, len(cfg.HostRPS)),
		buckets:   make(map[string]*rate.Limiter),
	}
	for host, rps := range cfg.HostRPS {
		l.overrides[strings.ToLower(host)] = limitFor(rps)
	}
	return l
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until the host of rawURL may be requested again or ctx ends.
// URLs without a host share one "unknown" bucket.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	// Immediate grants finish in microseconds; only real delays are recorded.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	limit, ok := l.overrides[host]
	if !ok {
		limit = l.fallback
	}
	b := rate.NewLimiter(limit, l.burst)
	l.buckets[host] = b
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
