// Package telegram delivers stock events as Telegram chat messages.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const (
	defaultAPIBase     = "https://api.telegram.org"
	defaultMinInterval = time.Second
	defaultTimeout     = 15 * time.Second
	maxRetryAfter      = 60 * time.Second
)

// Config holds bot credentials and pacing.
type Config struct {
	Token       string        `mapstructure:"token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIBase     string        `mapstructure:"api_base"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether both credentials are present.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.ChatID) != ""
}

// errRateLimited carries the server-requested backoff of a 429 response.
type errRateLimited struct {
	retryAfter time.Duration
}

func (e errRateLimited) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s", e.retryAfter)
}

// Notifier sends messages through the Bot API. Its limiter enforces the
// minimum interval between sends across all callers sharing the instance.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// New creates a Notifier. A nil client uses a client with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		sleep:   sleepCtx,
		logger:  logger.Named("telegram"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Notify formats and sends evt. A 429 is retried once after the advertised delay.
func (n *Notifier) Notify(ctx context.Context, evt monitor.Event) bool {
	msg := Format(evt)
	err := n.Send(ctx, msg)
	var limited errRateLimited
	if errors.As(err, &limited) {
		n.logger.Info("rate limited, retrying", zap.Duration("retry_after", limited.retryAfter))
		if err = n.sleep(ctx, limited.retryAfter); err == nil {
			err = n.Send(ctx, msg)
		}
	}
	if err != nil {
		n.logger.Warn("send failed", zap.String("kind", string(evt.Kind)), zap.String("domain", evt.Domain), zap.Error(err))
		return false
	}
	return true
}

// Send posts one HTML message after waiting for the pacing limiter.
func (n *Notifier) Send(ctx context.Context, html string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	form := url.Values{
		"chat_id":                  {n.cfg.ChatID},
		"text":                     {html},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"true"},
	}
	endpoint := strings.TrimRight(n.cfg.APIBase, "/") + "/bot" + n.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited{retryAfter: retryAfter(resp.Header.Get("Retry-After"), body)}
	case resp.StatusCode >= 300:
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type apiError struct {
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// retryAfter prefers the API's parameters.retry_after over the header and
// clamps the result to a sane range.
func retryAfter(header string, body []byte) time.Duration {
	secs := 0
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Parameters.RetryAfter > 0 {
		secs = apiErr.Parameters.RetryAfter
	} else if v, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		secs = v
	}
	d := time.Duration(secs) * time.Second
	if d <= 0 {
		d = time.Second
	}
	return min(d, maxRetryAfter)
}
