// Package detector decides when a direct fetch should be retried through the
// headless relay.
package detector

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
}

var strongChallengeMarkers = []string{
	"challenge-platform",
	"cf-chl",
	"__cf_chl",
	"jschl",
	"turnstile",
	"cf-turnstile",
}

// edgeStatus reports statuses returned by CDN edges when the origin is shielded.
func edgeStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, 520, 521, 522, 523, 525, 526:
		return true
	}
	return false
}

// ShouldPromote reports whether res warrants a relay fetch: the page was
// blocked by an edge or challenge, or came back as an empty script shell.
func (h *Heuristic) ShouldPromote(res monitor.FetchResult) bool {
	if !res.OK {
		return Blocked(res)
	}
	if res.StatusCode != http.StatusOK {
		return false
	}
	if strings.TrimSpace(res.Body) == "" {
		return true
	}
	if LooksLikeChallenge(0, res.Body) {
		return true
	}
	if len(res.Body) >= h.BodyLengthThreshold {
		return false
	}
	if scriptDensityHigh(res.Body) {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(res.Body, marker) {
			return true
		}
	}
	return false
}

// Blocked reports whether a failed fetch looks like an edge block rather
// than a genuine error page.
func Blocked(res monitor.FetchResult) bool {
	if edgeStatus(res.StatusCode) {
		return true
	}
	if res.Body == "" {
		return res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusServiceUnavailable
	}
	return LooksLikeChallenge(res.StatusCode, res.Body)
}

// LooksLikeChallenge reports whether a response is a browser challenge.
// Pass status 0 to judge the body alone.
func LooksLikeChallenge(status int, body string) bool {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		return true
	}
	t := strings.ToLower(body)
	// Analytics beacons also live under /cdn-cgi/, so require a strong marker.
	if strings.Contains(t, "/cdn-cgi/") {
		for _, m := range strongChallengeMarkers {
			if strings.Contains(t, m) {
				return true
			}
		}
	}
	if strings.Contains(t, "just a moment") && strings.Contains(t, "checking your browser") {
		return true
	}
	return strings.Contains(t, "attention required") && strings.Contains(t, "cloudflare")
}

func scriptDensityHigh(body string) bool {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
