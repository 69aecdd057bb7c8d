package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

var (
	// ErrRelayDisabled is reported by Noop.
	ErrRelayDisabled = errors.New("headless relay not configured")
	// ErrChallengeUnsolved reports a page that kept showing a bot challenge.
	ErrChallengeUnsolved = errors.New("relay: challenge not solved")
)

// Noop stands in for the relay when Chrome cannot be started. Blocked pages
// then stay failed and the domain keeps its previous state.
type Noop struct{}

// NewNoop returns the disabled relay.
func NewNoop() *Noop { return &Noop{} }

// Fetch implements monitor.Fetcher and always reports ErrRelayDisabled.
func (*Noop) Fetch(_ context.Context, rawURL string) monitor.FetchResult {
	return monitor.FetchResult{URL: rawURL, FinalURL: rawURL, Relayed: true, Err: ErrRelayDisabled}
}
