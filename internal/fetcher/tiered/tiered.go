// Package tiered composes politeness, the direct page fetcher and the
// headless relay into one monitor.Fetcher.
package tiered

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/headless/detector"
	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// ErrBlocked marks a response that was a challenge or edge block page.
var ErrBlocked = errors.New("blocked (challenge)")

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RelayPolicy gates relay use per URL.
type RelayPolicy interface {
	AllowRelay(rawURL string) bool
}

type allowAll struct{}

func (allowAll) AllowRelay(string) bool { return true }

// Fetcher tries the direct fetcher first and promotes blocked or empty
// responses to the relay when the policy allows.
type Fetcher struct {
	direct   monitor.Fetcher
	relay    monitor.Fetcher
	policy   RelayPolicy
	limiter  Limiter
	detector *detector.Heuristic
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces direct and relayed fetches.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithRelay enables the relay tier. A nil policy relays every promoted page.
func WithRelay(relay monitor.Fetcher, policy RelayPolicy) Option {
	return func(f *Fetcher) {
		f.relay = relay
		if policy == nil {
			policy = allowAll{}
		}
		f.policy = policy
	}
}

// WithDetector replaces the default promotion heuristic.
func WithDetector(d *detector.Heuristic) Option {
	return func(f *Fetcher) { f.detector = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher over direct.
func New(direct monitor.Fetcher, opts ...Option) *Fetcher {
	f := &Fetcher{direct: direct, detector: detector.NewHeuristic(0), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("fetch")
	return f
}

// Fetch implements monitor.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) monitor.FetchResult {
	if err := f.wait(ctx, rawURL); err != nil {
		return monitor.FetchResult{URL: rawURL, Err: err}
	}
	res := f.direct.Fetch(ctx, rawURL)
	promote := f.detector.ShouldPromote(res)
	if res.OK && detector.LooksLikeChallenge(0, res.Body) {
		res.OK = false
		res.Err = ErrBlocked
	} else if !res.OK && promote {
		res.Err = errors.Join(ErrBlocked, res.Err)
	}
	if !promote || f.relay == nil || !f.policy.AllowRelay(rawURL) || ctx.Err() != nil {
		return res
	}

	if err := f.wait(ctx, rawURL); err != nil {
		return res
	}
	relayed := f.relay.Fetch(ctx, rawURL)
	if !relayed.OK {
		metrics.ObserveRelay("failed")
		f.logger.Debug("relay failed", zap.String("url", rawURL), zap.Error(relayed.Err))
		return res
	}
	metrics.ObserveRelay("ok")
	relayed.Relayed = true
	return relayed
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx, rawURL)
}
