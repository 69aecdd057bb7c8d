package catalog

import (
	"maps"
	"slices"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

// FillCycles fills missing billing cycle data. Cycle prices imply their
// cycles; a flat price with no cycles implies Monthly; a flat price with no
// cycle prices is recorded against Monthly (or the first known cycle) only.
// No price is ever fabricated for other cycles.
func FillCycles(products []monitor.Product) []monitor.Product {
	out := make([]monitor.Product, 0, len(products))
	for _, p := range products {
		p = p.Clone()
		if len(p.CyclePrices) > 0 && len(p.BillingCycles) == 0 {
			p.BillingCycles = pagetext.SortCycles(slices.Sorted(maps.Keys(p.CyclePrices)))
		}
		if p.Price != "" && len(p.BillingCycles) == 0 {
			p.BillingCycles = []string{pagetext.Monthly}
		}
		if len(p.CyclePrices) == 0 && p.Price != "" && len(p.BillingCycles) > 0 {
			preferred := p.BillingCycles[0]
			if slices.Contains(p.BillingCycles, pagetext.Monthly) {
				preferred = pagetext.Monthly
			}
			p.CyclePrices = map[string]string{preferred: p.Price}
		}
		out = append(out, p)
	}
	return out
}
