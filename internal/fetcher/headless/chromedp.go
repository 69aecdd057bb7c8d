// Package headless relays blocked page fetches through a headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/vps-stock-monitor/internal/headless/detector"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// Config controls the behavior of the headless relay.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	ProxyURL          string
	NavigationTimeout time.Duration
	// ChallengeWait bounds how long a rendered challenge page is polled
	// for the real content to appear.
	ChallengeWait time.Duration
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultChallengeWait     = 8 * time.Second
	challengePoll            = 500 * time.Millisecond
)

// Fetcher implements monitor.Fetcher using chromedp and headless Chrome. All
// tabs share one browser process.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless relay backed by chromedp. The browser is
// started lazily by the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ChallengeWait <= 0 {
		cfg.ChallengeWait = defaultChallengeWait
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders rawURL in a fresh tab and returns the DOM. A page that still
// shows a challenge after ChallengeWait is reported as failed with the
// rendered body attached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) monitor.FetchResult {
	result := monitor.FetchResult{URL: rawURL, FinalURL: rawURL, Relayed: true}
	if err := f.acquire(ctx); err != nil {
		result.Err = err
		return result
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	html, location, err := f.render(tabCtx, rawURL)
	if err != nil {
		result.Err = err
		return result
	}

	result.StatusCode, result.FinalURL = doc.resolve(rawURL, location)
	result.Body = html
	switch {
	case detector.LooksLikeChallenge(0, html):
		result.Err = ErrChallengeUnsolved
	case result.StatusCode >= 400:
		result.Err = fmt.Errorf("relay: status %d", result.StatusCode)
	default:
		result.OK = true
	}
	return result
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (html, location string, err error) {
	err = chromedp.Run(ctx,
		f.prepareTab(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return f.waitPastChallenge(ctx, &html)
		}),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, location, nil
}

// waitPastChallenge polls the document until it no longer looks like a
// browser challenge or ChallengeWait elapses.
func (f *Fetcher) waitPastChallenge(ctx context.Context, html *string) error {
	giveUp := time.Now().Add(f.cfg.ChallengeWait)
	for {
		if err := chromedp.OuterHTML("html", html, chromedp.ByQuery).Do(ctx); err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		if !detector.LooksLikeChallenge(0, *html) || time.Now().After(giveUp) {
			return nil
		}
		if err := chromedp.Sleep(challengePoll).Do(ctx); err != nil {
			return fmt.Errorf("challenge wait: %w", err)
		}
	}
}

func (f *Fetcher) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// documentResponse keeps the status and URL of the last top-level document
// the tab received. Challenge pages often answer 403 first and then reload
// the real page, so later responses win.
type documentResponse struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// resolve picks the status and final URL. The browser location beats the
// response URL since solved challenges redirect in place; a missing status
// means the document came from cache and is treated as 200.
func (d *documentResponse) resolve(requestURL, location string) (int, string) {
	d.mu.Lock()
	status, url := d.status, d.url
	d.mu.Unlock()
	switch {
	case location != "":
		url = location
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
