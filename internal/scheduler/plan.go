// Package scheduler turns a run mode and target list into a crawl plan, runs
// the targets on a bounded worker pool and folds same-domain results.
package scheduler

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// ErrNoTargets is returned when a run has nothing to crawl.
var ErrNoTargets = errors.New("no targets configured")

// Mode selects how much of the catalog a run may explore.
type Mode string

const (
	// ModeFull evaluates every target with discovery and hidden scans.
	ModeFull Mode = "full"
	// ModeLite refreshes known domains only, without expansion.
	ModeLite Mode = "lite"
)

// ParseMode validates a mode name. Empty selects ModeFull.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeLite:
		return ModeLite, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

// Plan is the resolved work for one run.
type Plan struct {
	Mode           Mode
	Targets        []string
	AllowExpansion bool
	// PruneMissing allows dropping products a complete domain run did not reproduce.
	PruneMissing bool
	// PruneRemoved allows dropping domains that are no longer configured.
	PruneRemoved bool
	// ActiveDomains are the domains of the configured target set.
	ActiveDomains []string
}

// Select resolves the plan. Explicit targets scope the run but are never
// authoritative over the stored state, so they disable pruning. Lite mode
// never prunes and never expands.
func Select(mode Mode, explicit, defaults []string, prior monitor.State) Plan {
	configured := defaults
	if len(explicit) > 0 {
		configured = explicit
	}
	plan := Plan{
		Mode:           mode,
		Targets:        urlnorm.DedupeKeepOrder(configured),
		AllowExpansion: true,
		PruneMissing:   len(explicit) == 0,
		PruneRemoved:   len(explicit) == 0,
		ActiveDomains:  domainsOf(configured),
	}
	if mode == ModeLite {
		plan.Targets = liteTargets(prior, configured)
		plan.AllowExpansion = false
		plan.PruneMissing = false
		plan.PruneRemoved = false
	}
	return plan
}

// liteTargets keeps the configured targets whose domain already appears in
// the prior state, in state order. With no overlap every target is used.
func liteTargets(prior monitor.State, configured []string) []string {
	byDomain := make(map[string]string, len(configured))
	for _, t := range configured {
		if !urlnorm.IsHTTP(t) {
			continue
		}
		d := urlnorm.Domain(t)
		if _, ok := byDomain[d]; !ok {
			byDomain[d] = t
		}
	}

	var out []string
	taken := make(map[string]struct{})
	for _, d := range stateDomains(prior) {
		t, ok := byDomain[d]
		if !ok {
			continue
		}
		if _, dup := taken[t]; dup {
			continue
		}
		taken[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return urlnorm.DedupeKeepOrder(configured)
	}
	return out
}

// stateDomains lists domains from the domain table and product records,
// sorted within each source so selection is deterministic.
func stateDomains(prior monitor.State) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range slices.Sorted(maps.Keys(prior.Domains)) {
		add(d)
	}
	for _, id := range slices.Sorted(maps.Keys(prior.Products)) {
		add(prior.Products[id].Domain)
	}
	return out
}

func domainsOf(targets []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range targets {
		if !urlnorm.IsHTTP(t) {
			continue
		}
		d := urlnorm.Domain(t)
		if _, ok := seen[d]; ok || d == "" {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// ValidateTargets rejects anything that is not an absolute http(s) URL with a host.
func ValidateTargets(targets []string) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}
	for _, t := range targets {
		if !urlnorm.IsHTTP(t) || urlnorm.Domain(t) == "" {
			return fmt.Errorf("invalid target %q", t)
		}
	}
	return nil
}
