package extractor

import (
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// StoreAPIConfig describes a JSON store API domain.
type StoreAPIConfig struct {
	Domain   string            `mapstructure:"domain"`
	Currency string            `mapstructure:"currency"`
	ShopPath string            `mapstructure:"shop_path"`
	Query    map[string]string `mapstructure:"query"`
}

// Registry resolves the extractor for a domain.
type Registry struct {
	byDomain map[string]monitor.Extractor
}

// NewRegistry builds a registry. Domains listed in storeAPIs get the JSON
// extractor; every other domain gets an HTML extractor on first lookup.
func NewRegistry(htmlDomains []string, storeAPIs []StoreAPIConfig) *Registry {
	r := &Registry{byDomain: make(map[string]monitor.Extractor, len(htmlDomains)+len(storeAPIs))}
	for _, d := range htmlDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			r.byDomain[d] = NewHTML(d)
		}
	}
	for _, cfg := range storeAPIs {
		d := strings.ToLower(strings.TrimSpace(cfg.Domain))
		if d == "" {
			continue
		}
		cfg.Domain = d
		r.byDomain[d] = NewStoreAPI(cfg)
	}
	return r
}

// For returns the extractor registered for domain, or a fresh HTML extractor.
func (r *Registry) For(domain string) monitor.Extractor {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if ex, ok := r.byDomain[domain]; ok {
		return ex
	}
	return NewHTML(domain)
}

var _ monitor.ExtractorSource = (*Registry)(nil)
