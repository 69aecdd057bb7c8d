package pagetext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const cycleControls = "select[name='billingcycle'], select[name*='billingcycle'], select[name='cycle'], select[name*='cycle']"

const cycleInputs = "input[name='billingcycle'], input[name*='billingcycle'], input[name='cycle'], input[name*='cycle']"

// Text returns the compacted visible text of sel.
func Text(sel *goquery.Selection) string {
	return CompactWS(sel.Text())
}

// CyclesFromSelection lists billing cycles offered by cycle selectors, cycle
// inputs and cycle tokens within sel. raw is the markup of sel.
func CyclesFromSelection(sel *goquery.Selection, raw string) []string {
	var cycles []string
	sel.Find(cycleControls).Each(func(_ int, s *goquery.Selection) {
		s.Find("option").Each(func(_ int, opt *goquery.Selection) {
			cycles = AddCycle(cycles, opt.AttrOr("value", ""))
			cycles = AddCycle(cycles, Text(opt))
		})
	})
	sel.Find(cycleInputs).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("value"); ok {
			cycles = AddCycle(cycles, v)
		}
	})
	for _, c := range CyclesFromText(raw) {
		cycles = AddCycle(cycles, c)
	}
	return cycles
}

// CyclePricesFromSelection maps cycle labels to the price shown for them.
// The first price seen for a cycle wins.
func CyclePricesFromSelection(sel *goquery.Selection) map[string]string {
	out := map[string]string{}
	add := func(rawCycle, rawText string) {
		cycle := NormalizeCycleLabel(rawCycle)
		if cycle == "" {
			cycle = NormalizeCycleLabel(rawText)
		}
		if cycle == "" {
			return
		}
		price, _ := ExtractPrice(rawText)
		if price == "" {
			return
		}
		if _, ok := out[cycle]; !ok {
			out[cycle] = price
		}
	}
	sel.Find(cycleControls).Each(func(_ int, s *goquery.Selection) {
		s.Find("option").Each(func(_ int, opt *goquery.Selection) {
			add(opt.AttrOr("value", ""), Text(opt))
		})
	})
	sel.Find(".product-price[class*='cycle-']").Each(func(_ int, s *goquery.Selection) {
		code := ""
		if m := cycleClassRe.FindStringSubmatch(s.AttrOr("class", "")); m != nil {
			code = m[1]
		}
		add(code, Text(s))
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

var locationLabelHints = []string{
	"location", "datacenter", "data center", "zone", "region", "node", "pop", "facility", "dc",
	"機房", "机房", "資料中心", "数据中心", "地区", "地區",
}

var locationLabelBlocklist = []string{
	"os", "template", "hostname", "ssh", "password", "backup", "billing", "cycle", "period",
	"ipv4", "ipv6", "bandwidth", "traffic", "transfer", "license", "control panel", "kernel", "rescue",
}

var locationValueBlocklist = map[string]struct{}{
	"": {}, "none": {}, "n/a": {}, "no": {}, "no thanks": {}, "default": {},
	"please choose": {}, "select": {}, "--": {},
}

// LooksLikeLocationLabel reports whether a form label introduces a location choice.
func LooksLikeLocationLabel(label string) bool {
	l := strings.ToLower(CompactWS(label))
	if l == "" || containsAny(l, locationLabelBlocklist) {
		return false
	}
	return containsAny(l, locationLabelHints)
}

var (
	testIPRe      = regexp.MustCompile(`(?i)\(\s*test\s*ip[^)]*\)`)
	stockSuffixRe = regexp.MustCompile(`(?i)\s*-\s*(?:in\s*stock|out\s*of\s*stock|sold\s*out)\s*$`)
)

// CleanLocationValue strips test-IP hints and stock suffixes from a location option.
func CleanLocationValue(raw string) string {
	v := CompactWS(raw)
	if v == "" {
		return ""
	}
	v = testIPRe.ReplaceAllString(v, "")
	v = stockSuffixRe.ReplaceAllString(v, "")
	return strings.Trim(CompactWS(v), " -")
}

// LocationVariant is one location option found on an order form.
type LocationVariant struct {
	Name      string
	Available monitor.Availability
}

func isLocationControl(s *goquery.Selection) bool {
	name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
	switch {
	case strings.HasPrefix(name, "configoption"), strings.Contains(name, "configoption["):
		return true
	case strings.HasPrefix(name, "custom"), strings.Contains(name, "custom["):
		return true
	}
	return containsAny(name, []string{"location", "datacenter", "data_center", "data center"})
}

func radioLabel(s *goquery.Selection) string {
	var parts []string
	if len(s.Nodes) > 0 {
		for sib := s.Nodes[0].NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && (sib.Data == "br" || sib.Data == "input" || sib.Data == "script") {
				break
			}
			if piece := CompactWS(goquery.NewDocumentFromNode(sib).Text()); piece != "" {
				parts = append(parts, piece)
			}
		}
	}
	if len(parts) == 0 {
		if v, ok := s.Attr("value"); ok {
			parts = append(parts, v)
		}
	}
	return CompactWS(strings.Join(parts, " "))
}

const locationGroups = "div.form-group, div.cart-item, div.option-val, fieldset, .configoptions, .product-config, .order-config, div.section"

const locationGroupLabels = "label, h3, h4, .control-label, .font-weight-bold, .section-title, .section-header h2, .section-header h3"

// LocationVariants lists distinct location options offered by configuration
// groups whose label reads like a location chooser.
func LocationVariants(root *goquery.Selection) []LocationVariant {
	var out []LocationVariant
	seen := map[string]struct{}{}
	add := func(raw string) {
		if raw == "" {
			return
		}
		cleaned := CleanLocationValue(raw)
		key := strings.ToLower(cleaned)
		if _, blocked := locationValueBlocklist[key]; blocked {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, LocationVariant{Name: cleaned, Available: ExtractAvailability(raw)})
	}
	root.Find(locationGroups).Each(func(_ int, g *goquery.Selection) {
		var labels []string
		g.Find(locationGroupLabels).Each(func(_ int, l *goquery.Selection) {
			if t := Text(l); t != "" {
				labels = append(labels, t)
			}
		})
		if !LooksLikeLocationLabel(strings.Join(labels, " ")) {
			return
		}
		g.Find("select").Each(func(_ int, s *goquery.Selection) {
			if !isLocationControl(s) {
				return
			}
			s.Find("option").Each(func(_ int, opt *goquery.Selection) {
				add(Text(opt))
			})
		})
		g.Find("input[type='radio'], input[type='checkbox']").Each(func(_ int, s *goquery.Selection) {
			if isLocationControl(s) {
				add(radioLabel(s))
			}
		})
	})
	return out
}
