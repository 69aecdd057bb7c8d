package monitor

import (
	"context"
	"time"
)

// FetchResult is the outcome of one page fetch after retries.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	OK         bool
	Body       string
	Err        error
	Relayed    bool
}

// Fetcher retrieves a page. Retries and backoff happen inside the implementation;
// failures are reported through FetchResult.OK and FetchResult.Err.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) FetchResult

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) FetchResult {
	return f(ctx, rawURL)
}

// Extractor turns one page body into product candidates. Implementations are pure.
type Extractor interface {
	Parse(body, baseURL string) ([]Product, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(body, baseURL string) ([]Product, error)

// Parse calls f.
func (f ExtractorFunc) Parse(body, baseURL string) ([]Product, error) {
	return f(body, baseURL)
}

// ExtractorSource resolves the extractor for a domain.
type ExtractorSource interface {
	For(domain string) Extractor
}

// Notifier delivers events. A false return is logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, event Event) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for page signatures.
type Hasher interface {
	Hash(data []byte) (string, error)
}
