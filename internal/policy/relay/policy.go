// Package relay decides which pages are worth a headless relay fetch.
package relay

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
)

// Mode selects how widely the relay is used.
type Mode string

const (
	// ModeOff never relays.
	ModeOff Mode = "off"
	// ModeListing relays store roots and listing pages only.
	ModeListing Mode = "listing"
	// ModeAll relays any blocked page.
	ModeAll Mode = "all"
)

// Policy gates relay use per URL.
type Policy struct {
	mode Mode
}

// New creates a Policy. Unknown modes behave like ModeListing.
func New(mode Mode) *Policy {
	switch mode {
	case ModeOff, ModeAll:
	default:
		mode = ModeListing
	}
	return &Policy{mode: mode}
}

// AllowRelay reports whether a blocked fetch of rawURL may go through the relay.
// Per-item cart probes are excluded in listing mode because the hidden scan
// issues hundreds of them.
func (p *Policy) AllowRelay(rawURL string) bool {
	switch p.mode {
	case ModeOff:
		return false
	case ModeAll:
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lower := strings.ToLower(rawURL)
	path := strings.ToLower(u.Path)
	q := strings.ToLower(u.RawQuery)

	switch {
	case strings.Trim(path, "/") == "" && (q == "" || strings.HasPrefix(q, "rp=")):
		return true
	case discovery.IsPrimaryListing(rawURL):
		return true
	case strings.Contains(lower, "/api/") || strings.HasPrefix(u.Host, "api.") || strings.Contains(lower, "getvpsstore"):
		return true
	case strings.Contains(path, "/pages/pricing") || strings.HasSuffix(path, "/pricing"):
		return true
	}
	if _, after, ok := strings.Cut(lower, "?/cart/"); ok {
		tail, _, _ := strings.Cut(after, "&")
		tail = strings.Trim(tail, "/")
		return tail == "" || strings.Count(tail, "/") <= 1
	}
	switch strings.TrimRight(path, "/") {
	case "/cart", "/products", "/store":
		return true
	}
	if strings.HasSuffix(path, "/cart.php") {
		return !strings.Contains(q, "a=add") && !strings.Contains(q, "pid=") &&
			!strings.Contains(q, "gid=") && !strings.Contains(q, "fid=")
	}
	return false
}
