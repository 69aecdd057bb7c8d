package monitor

import (
	"maps"
	"slices"
)

// Product is one purchasable item observed during a crawl.
type Product struct {
	ID            string            `json:"id"`
	Domain        string            `json:"domain"`
	URL           string            `json:"url"`
	Name          string            `json:"name"`
	Price         string            `json:"price,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Description   string            `json:"description,omitempty"`
	Specs         Specs             `json:"specs,omitempty"`
	Available     Availability      `json:"available"`
	VariantOf     string            `json:"variant_of,omitempty"`
	Location      string            `json:"location,omitempty"`
	Locations     []string          `json:"locations,omitempty"`
	LocationLinks map[string]string `json:"location_links,omitempty"`
	BillingCycles []string          `json:"billing_cycles,omitempty"`
	CyclePrices   map[string]string `json:"cycle_prices,omitempty"`
	IsSpecial     bool              `json:"is_special,omitempty"`
}

// Clone returns a deep copy so stages never alias each other's slices or maps.
func (p Product) Clone() Product {
	out := p
	out.Specs = p.Specs.Clone()
	out.Locations = slices.Clone(p.Locations)
	out.LocationLinks = maps.Clone(p.LocationLinks)
	out.BillingCycles = slices.Clone(p.BillingCycles)
	out.CyclePrices = maps.Clone(p.CyclePrices)
	return out
}

// CloneProducts deep-copies a product list.
func CloneProducts(in []Product) []Product {
	if in == nil {
		return nil
	}
	out := make([]Product, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
