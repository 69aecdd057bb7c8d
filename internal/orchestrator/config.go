package orchestrator

import (
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/scanner"
)

// Config holds the per-target budgets and domain tables.
type Config struct {
	// TargetBudget bounds one target crawl. Zero disables the deadline.
	TargetBudget time.Duration `mapstructure:"target_budget"`
	// HiddenBudget bounds the hidden scan inside TargetBudget.
	HiddenBudget time.Duration `mapstructure:"hidden_budget"`
	// ParallelHidden starts the hidden scan alongside discovery instead of after it.
	ParallelHidden bool `mapstructure:"parallel_hidden"`

	Discovery discovery.Config `mapstructure:"discovery"`
	Scanner   scanner.Config   `mapstructure:"scanner"`
	Enrich    EnrichConfig     `mapstructure:"enrich"`

	// HiddenScanDenylist never gets a hidden scan.
	HiddenScanDenylist []string `mapstructure:"hidden_scan_denylist"`
	// SkipGroupScanDomains run the item scan only.
	SkipGroupScanDomains []string `mapstructure:"skip_group_scan_domains"`
}

// EnrichConfig selects and sizes the enrichment pass.
type EnrichConfig struct {
	Workers int `mapstructure:"workers"`
	// Pages is the default page limit; WHMCS stores get at least PagesWHMCS.
	Pages      int `mapstructure:"pages"`
	PagesWHMCS int `mapstructure:"pages_whmcs"`
	// LargePages applies to LargeDomains, CyclePages to CyclePagesDomains.
	LargePages        int      `mapstructure:"large_pages"`
	LargeDomains      []string `mapstructure:"large_domains"`
	CyclePages        int      `mapstructure:"cycle_pages"`
	CyclePagesDomains []string `mapstructure:"cycle_pages_domains"`
	// MinRemaining skips enrichment when less time is left; under
	// ShortRemaining the page limit drops to ShortPages.
	MinRemaining   time.Duration `mapstructure:"min_remaining"`
	ShortRemaining time.Duration `mapstructure:"short_remaining"`
	ShortPages     int           `mapstructure:"short_pages"`
	// Domains are enriched even when no platform is detected.
	Domains []string `mapstructure:"domains"`
	// CycleDomains also fetch products that lack cycle data.
	CycleDomains []string `mapstructure:"cycle_domains"`
	// TrueRecheckDomains re-verify in-stock products; FalseRecheckDomains
	// re-verify out-of-stock ones.
	TrueRecheckDomains  []string `mapstructure:"true_recheck_domains"`
	FalseRecheckDomains []string `mapstructure:"false_recheck_domains"`
	// PurchaseOverrideDomains trust an enabled purchase button over stale
	// sold-out banners.
	PurchaseOverrideDomains []string `mapstructure:"purchase_override_domains"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TargetBudget:         210 * time.Second,
		HiddenBudget:         180 * time.Second,
		ParallelHidden:       true,
		Discovery:            discovery.DefaultConfig(),
		Scanner:              scanner.DefaultConfig(),
		Enrich:               DefaultEnrichConfig(),
		HiddenScanDenylist:   []string{"cloud.tizz.yt"},
		SkipGroupScanDomains: []string{"www.dmit.io"},
	}
}

// DefaultEnrichConfig returns the documented enrichment defaults.
func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		Workers:           6,
		Pages:             40,
		PagesWHMCS:        60,
		LargePages:        140,
		LargeDomains:      []string{"bgp.gd", "cloud.colocrossing.com", "clients.zgovps.com"},
		CyclePages:        80,
		CyclePagesDomains: []string{"clientarea.gigsgigscloud.com"},
		MinRemaining:      20 * time.Second,
		ShortRemaining:    60 * time.Second,
		ShortPages:        12,
		Domains: []string{
			"backwaves.net", "app.vmiss.com", "clients.zgovps.com",
			"clientarea.gigsgigscloud.com", "www.dmit.io", "greencloudvps.com",
		},
		CycleDomains:            []string{"clients.zgovps.com", "clientarea.gigsgigscloud.com", "www.dmit.io"},
		TrueRecheckDomains:      []string{"clientarea.gigsgigscloud.com", "www.dmit.io"},
		FalseRecheckDomains:     []string{"backwaves.net"},
		PurchaseOverrideDomains: []string{"cloud.colocrossing.com"},
	}
}

func inList(list []string, domain string) bool {
	return slices.ContainsFunc(list, func(d string) bool { return strings.EqualFold(d, domain) })
}
