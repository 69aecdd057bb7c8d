// Package cleanup holds per-domain post-processing rules that correct known
// extractor blind spots. Every rule is a pure, idempotent function of
// (domain, products) that reports what it changed.
package cleanup

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

// Diagnostics counts the effect of the rules on one product list.
type Diagnostics struct {
	DroppedNoise         int `json:"dropped_noise"`
	Renamed              int `json:"renamed"`
	SpecsCollapsed       int `json:"specs_collapsed"`
	AvailabilityInferred int `json:"availability_inferred"`
	LocationsStripped    int `json:"locations_stripped"`
	Special              int `json:"special"`
}

// Add sums two diagnostics.
func (d Diagnostics) Add(other Diagnostics) Diagnostics {
	return Diagnostics{
		DroppedNoise:         d.DroppedNoise + other.DroppedNoise,
		Renamed:              d.Renamed + other.Renamed,
		SpecsCollapsed:       d.SpecsCollapsed + other.SpecsCollapsed,
		AvailabilityInferred: d.AvailabilityInferred + other.AvailabilityInferred,
		LocationsStripped:    d.LocationsStripped + other.LocationsStripped,
		Special:              d.Special + other.Special,
	}
}

// Map renders the counters for run metadata.
func (d Diagnostics) Map() map[string]int {
	return map[string]int{
		"dropped_noise":         d.DroppedNoise,
		"renamed":               d.Renamed,
		"specs_collapsed":       d.SpecsCollapsed,
		"availability_inferred": d.AvailabilityInferred,
		"locations_stripped":    d.LocationsStripped,
		"special":               d.Special,
	}
}

// Rule is one cleanup step.
type Rule func(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics)

// Rules is the default rule table, applied in order by Apply.
var Rules = []Rule{
	InferAddActionAvailability,
	CollapseSpecs,
	DropPlaceholderProducts,
	StripSpecialLocations,
	RenameGenericTiers,
	RenameDottedCodes,
}

// Apply runs Rules over products and counts specials in the result.
func Apply(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	out := products
	for _, rule := range Rules {
		var d Diagnostics
		out, d = rule(domain, out)
		diag = diag.Add(d)
	}
	for _, p := range out {
		if p.IsSpecial {
			diag.Special++
		}
	}
	return out, diag
}

var addActionDomains = map[string]struct{}{
	"clients.zgovps.com":           {},
	"clientarea.gigsgigscloud.com": {},
}

// InferAddActionAvailability marks priced products in stock when their URL is
// an explicit add-to-cart action on platforms that never render stock text.
func InferAddActionAvailability(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	if _, ok := addActionDomains[strings.ToLower(domain)]; !ok {
		return products, diag
	}
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		lower := strings.ToLower(p.URL)
		if p.Available == monitor.Unknown && p.Price != "" && strings.Contains(lower, "action=add") &&
			(strings.Contains(lower, "id=") || strings.Contains(lower, "pid=") || strings.Contains(lower, "product_id=")) {
			p = p.Clone()
			p.Available = monitor.InStock
			diag.AvailabilityInferred++
		}
		out[i] = p
	}
	return out, diag
}

// CollapseSpecs drops the cycles pseudo-spec and the duplicate traffic labels
// that repeat the bandwidth value.
func CollapseSpecs(_ string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		cleaned := cleanSpecs(p.Specs)
		if len(cleaned) != len(p.Specs) {
			diag.SpecsCollapsed++
		}
		p = p.Clone()
		p.Specs = cleaned
		out[i] = p
	}
	return out, diag
}

func cleanSpecs(specs monitor.Specs) monitor.Specs {
	if len(specs) == 0 {
		return nil
	}
	var out monitor.Specs
	for _, s := range specs {
		key := pagetext.CompactWS(s.Key)
		if key == "" || strings.EqualFold(key, "cycles") {
			continue
		}
		out = out.Set(key, pagetext.CompactWS(s.Value))
	}
	bw, _ := out.Get("Bandwidth")
	tr, _ := out.Get("Traffic")
	bwt, _ := out.Get("BandwidthTraffic")
	if bw != "" && tr != "" && pagetext.SpecValueNorm(bw) == pagetext.SpecValueNorm(tr) {
		out = out.Delete("Traffic")
	}
	if bwt != "" {
		v := pagetext.SpecValueNorm(bwt)
		if (bw != "" && pagetext.SpecValueNorm(bw) == v) || (tr != "" && pagetext.SpecValueNorm(tr) == v) {
			out = out.Delete("BandwidthTraffic")
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DropPlaceholderProducts removes DIY configurator categories that one
// storefront lists like products.
func DropPlaceholderProducts(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	if strings.ToLower(domain) != "cloud.boil.network" {
		return products, diag
	}
	out := make([]monitor.Product, 0, len(products))
	for _, p := range products {
		path := ""
		if u, err := url.Parse(p.URL); err == nil {
			path = strings.ToLower(u.Path)
		}
		if strings.Contains(strings.ToLower(p.URL), "/store/") && strings.Contains(path, "diy-") {
			diag.DroppedNoise++
			continue
		}
		out = append(out, p)
	}
	return out, diag
}

// StripSpecialLocations removes "special" pseudo-locations that come from a
// promotional category rendered as a location chooser.
func StripSpecialLocations(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	if strings.ToLower(domain) != "cloud.colocrossing.com" {
		return products, diag
	}
	isSpecial := func(s string) bool { return strings.Contains(strings.ToLower(s), "special") }
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		p = p.Clone()
		stripped := false
		if isSpecial(p.Location) {
			p.Location = ""
			stripped = true
		}
		var locs []string
		for _, loc := range p.Locations {
			if isSpecial(loc) {
				stripped = true
				continue
			}
			locs = append(locs, loc)
		}
		p.Locations = locs
		for loc := range p.LocationLinks {
			if isSpecial(loc) {
				delete(p.LocationLinks, loc)
				stripped = true
			}
		}
		if len(p.LocationLinks) == 0 {
			p.LocationLinks = nil
		}
		if stripped {
			diag.LocationsStripped++
		}
		out[i] = p
	}
	return out, diag
}

var genericTiers = map[string]struct{}{"starter": {}, "standard": {}, "pro": {}, "premium": {}}

// RenameGenericTiers prefixes bare tier names with their parent plan.
func RenameGenericTiers(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	if strings.ToLower(domain) != "clients.zgovps.com" {
		return products, diag
	}
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		name := strings.ToLower(pagetext.CompactWS(p.Name))
		if _, generic := genericTiers[name]; generic && p.VariantOf != "" {
			candidate := p.VariantOf + " - " + p.Name
			if strings.ToLower(pagetext.CompactWS(candidate)) != name {
				p.Name = candidate
				diag.Renamed++
			}
		}
		out[i] = p
	}
	return out, diag
}

var dottedCodeRe = regexp.MustCompile(`\b([A-Za-z0-9]+(?:\.[A-Za-z0-9]+){2,})\b`)

// RenameDottedCodes restores full plan codes such as LAX.AN5.Pro.STARTER on a
// storefront whose cards only render the last segment.
func RenameDottedCodes(domain string, products []monitor.Product) ([]monitor.Product, Diagnostics) {
	var diag Diagnostics
	if strings.ToLower(domain) != "www.dmit.io" {
		return products, diag
	}
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		if code := dottedCode(p); code != "" {
			name := pagetext.CompactWS(p.Name)
			lower := strings.ToLower(name)
			if lower != strings.ToLower(code) {
				segments := strings.Split(code, ".")
				if lower == strings.ToLower(segments[len(segments)-1]) || len([]rune(name)) <= 10 {
					p.Name = code
					diag.Renamed++
				}
			}
		}
		out[i] = p
	}
	return out, diag
}

func dottedCode(p monitor.Product) string {
	var candidates []string
	target := p.URL
	if u, err := url.Parse(p.URL); err == nil {
		target = u.RequestURI()
	}
	for _, m := range dottedCodeRe.FindAllStringSubmatch(target, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range dottedCodeRe.FindAllStringSubmatch(p.Description, -1) {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		return ""
	}
	name := strings.ToLower(pagetext.CompactWS(p.Name))
	for _, c := range candidates {
		segments := strings.Split(c, ".")
		if strings.ToLower(segments[len(segments)-1]) == name {
			return c
		}
	}
	return candidates[0]
}
