package catalog

import (
	"maps"
	"slices"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

// Locations returns the ordered, case-insensitively unique locations of p,
// including its single Location field.
func Locations(p monitor.Product) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(raw string) {
		loc := pagetext.CompactWS(raw)
		if loc == "" {
			return
		}
		key := strings.ToLower(loc)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, loc)
	}
	for _, loc := range p.Locations {
		add(loc)
	}
	add(p.Location)
	return out
}

// LocationLinks returns explicit location links of p plus a link to p.URL for
// every location without one.
func LocationLinks(p monitor.Product) map[string]string {
	out := map[string]string{}
	for loc, link := range p.LocationLinks {
		if loc = pagetext.CompactWS(loc); loc != "" && link != "" {
			out[loc] = link
		}
	}
	for _, loc := range Locations(p) {
		if _, ok := out[loc]; !ok {
			out[loc] = p.URL
		}
	}
	return out
}

// MergedAvailability is the variant merge policy: in stock if any member is,
// otherwise unknown if any member is unknown, otherwise out of stock.
func MergedAvailability(values ...monitor.Availability) monitor.Availability {
	if len(values) == 0 {
		return monitor.Unknown
	}
	sawUnknown := false
	for _, v := range values {
		switch v {
		case monitor.InStock:
			return monitor.InStock
		case monitor.Unknown:
			sawUnknown = true
		}
	}
	if sawUnknown {
		return monitor.Unknown
	}
	return monitor.OutOfStock
}

// Merge groups products by CanonicalKey and folds every group into one
// product. Groups keep first-seen order; scalar fields come from the first
// member carrying a value.
func Merge(products []monitor.Product) []monitor.Product {
	if len(products) == 0 {
		return nil
	}
	var order []string
	groups := map[string][]monitor.Product{}
	for _, p := range products {
		key := CanonicalKey(p)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	out := make([]monitor.Product, 0, len(order))
	for _, key := range order {
		out = append(out, mergeGroup(groups[key]))
	}
	return out
}

func mergeGroup(items []monitor.Product) monitor.Product {
	base := items[0].Clone()
	locs := locationsOf(items)
	links := map[string]string{}
	for _, p := range items {
		for loc, link := range LocationLinks(p) {
			if _, ok := links[loc]; !ok {
				links[loc] = link
			}
		}
	}
	if len(locs) > 0 {
		base.Location = locs[0]
	}
	base.Locations = locs
	base.LocationLinks = nil
	if len(links) > 0 {
		base.LocationLinks = links
	}
	if len(items) == 1 {
		return base
	}

	avail := make([]monitor.Availability, len(items))
	for i, p := range items {
		avail[i] = p.Available
	}
	base.Available = MergedAvailability(avail...)

	for _, p := range items {
		if len(base.Specs) == 0 && len(p.Specs) > 0 {
			base.Specs = p.Specs.Clone()
		}
		if base.Price == "" && p.Price != "" {
			base.Price, base.Currency = p.Price, p.Currency
		}
		if base.Description == "" && p.Description != "" {
			base.Description = p.Description
		}
		if p.IsSpecial {
			base.IsSpecial = true
		}
	}

	var cycles []string
	cyclePrices := map[string]string{}
	for _, p := range items {
		for _, c := range p.BillingCycles {
			if !slices.Contains(cycles, c) {
				cycles = append(cycles, c)
			}
		}
		for c, price := range p.CyclePrices {
			if _, ok := cyclePrices[c]; !ok {
				cyclePrices[c] = price
			}
		}
	}
	base.BillingCycles = cycles
	base.CyclePrices = nil
	if len(cyclePrices) > 0 {
		base.CyclePrices = cyclePrices
	}

	if variant := mostCommonVariant(items); variant != "" {
		base.VariantOf = variant
	}
	if len(locs) > 1 {
		if _, ok := base.Specs.Get("Location"); !ok {
			shown := locs
			if len(shown) > 4 {
				shown = shown[:4]
			}
			base.Specs = base.Specs.Set("Location", strings.Join(shown, ", "))
		}
	}
	if base.Price == "" {
		base.Price = PriceFromCycles(base.CyclePrices, base.BillingCycles)
	}
	return base
}

func locationsOf(items []monitor.Product) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range items {
		for _, loc := range Locations(p) {
			key := strings.ToLower(loc)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, loc)
		}
	}
	return out
}

func mostCommonVariant(items []monitor.Product) string {
	counts := map[string]int{}
	var order []string
	for _, p := range items {
		v := pagetext.CompactWS(p.VariantOf)
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestCount := "", 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

// PriceFromCycles picks a headline price from cycle prices: Monthly, then
// Quarterly, then Yearly, then the first cycle in display order.
func PriceFromCycles(cyclePrices map[string]string, cycles []string) string {
	if len(cyclePrices) == 0 {
		return ""
	}
	for _, preferred := range []string{pagetext.Monthly, pagetext.Quarterly, pagetext.Yearly} {
		if price := cyclePrices[preferred]; price != "" {
			return price
		}
	}
	for _, c := range cycles {
		if price := cyclePrices[c]; price != "" {
			return price
		}
	}
	for _, c := range pagetext.CycleOrder {
		if price := cyclePrices[c]; price != "" {
			return price
		}
	}
	return cyclePrices[slices.Sorted(maps.Keys(cyclePrices))[0]]
}
