package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/vps-stock-monitor/internal/metrics"
)

var transientRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// transientRetryTransport retries bodiless requests whose round trip failed
// with a dial or TLS handshake timeout. Status-level retries live in Fetch.
type transientRetryTransport struct {
	base  http.RoundTripper
	sleep func(ctx context.Context, d time.Duration) error
}

func (t *transientRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	sleep := t.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	maxAttempts := len(transientRetryBackoff) + 1
	if req.Body != nil && req.Body != http.NoBody {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransientNetError(err) || req.Context().Err() != nil || attempt == maxAttempts-1 {
			break
		}
		metrics.ObserveTransportRetry()
		if err := sleep(req.Context(), transientRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("round trip: %w", lastErr)
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
