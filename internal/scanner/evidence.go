package scanner

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

var (
	harvestIDRe      = regexp.MustCompile(`(?i)(?:[?&]|&amp;)(pid|id|product_id|gid|fid)=(\d+)\b`)
	hostBillAddRe    = regexp.MustCompile(`(?i)action=add(?:&amp;|&)id=\d+`)
	hostBillHiddenRe = regexp.MustCompile(`(?i)name=['"]id['"][^>]*value=['"]\d+['"]`)
	longHexRe        = regexp.MustCompile(`[a-f0-9]{24,}`)
	longNumberRe     = regexp.MustCompile(`\b\d{4,}\b`)
)

var (
	itemMissMarkers  = []string{"product does not exist", "not found", "invalid product", "no product selected"}
	groupMissMarkers = []string{"not found", "invalid", "no product groups found", "no products found", "no products"}
	// productMatchKeys identify the probed item on extracted product URLs.
	productMatchKeys = []string{"id", "pid", "product_id", "planid"}
)

func compactLower(body string) string {
	return strings.ToLower(pagetext.CompactWS(body))
}

func anyIn(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// itemEvidence reports whether an item probe page looks like a product
// configuration page rather than a generic miss.
func itemEvidence(platform discovery.Platform, body string) bool {
	text := compactLower(body)
	if text == "" {
		return false
	}
	if platform == discovery.PlatformHostBill {
		if anyIn(text, []string{"not found", "invalid", "product does not exist", "no product selected"}) {
			return false
		}
		if pagetext.ExtractAvailability(body).Known() {
			return true
		}
		return anyIn(text, []string{"billing cycle", "configoption", "configure", "action=add&id=", "step=3"})
	}
	if anyIn(text, itemMissMarkers) {
		return false
	}
	if anyIn(text, []string{"billingcycle", "configoption[", "custom["}) {
		return true
	}
	return pagetext.ExtractAvailability(body).Known()
}

// groupEvidence reports whether a group probe page lists products.
func groupEvidence(platform discovery.Platform, body string) bool {
	text := compactLower(body)
	if text == "" {
		return false
	}
	if platform == discovery.PlatformHostBill {
		if anyIn(text, []string{"not found", "invalid", "no products"}) {
			return false
		}
		if hostBillAddRe.MatchString(text) || hostBillHiddenRe.MatchString(text) {
			return true
		}
		return anyIn(text, []string{"?/cart/", "/cart/"}) && anyIn(text, []string{"add to cart", "configure", "order"})
	}
	if anyIn(text, groupMissMarkers) {
		return false
	}
	if strings.Contains(text, "cart.php") && strings.Contains(text, "pid=") {
		return true
	}
	return strings.Contains(text, "rp=/store") && anyIn(text, []string{"add to cart", "configure", "order"})
}

// mentionsID reports whether the page echoes the probed identifier in a link
// parameter or a hidden form field.
func mentionsID(body string, id int, keys []string) bool {
	if id < 0 {
		return false
	}
	digits := strconv.Itoa(id)
	if !strings.Contains(body, digits) {
		return false
	}
	for _, key := range keys {
		k := regexp.QuoteMeta(key)
		param := regexp.MustCompile(`(?i)(?:[?&]|&amp;)` + k + `=` + digits + `\b`)
		if param.MatchString(body) {
			return true
		}
		field := regexp.MustCompile(`(?i)name=['"]` + k + `['"][^>]*value=['"]` + digits + `['"]`)
		if field.MatchString(body) {
			return true
		}
	}
	return false
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

// harvestIDs collects identifiers for keys from link parameters, form
// actions and input fields of a group page.
func harvestIDs(body, pageURL string, keys []string) []int {
	want := keySet(keys)
	found := make(map[int]struct{})
	add := func(key, raw string) {
		if _, ok := want[strings.ToLower(strings.TrimSpace(key))]; !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return
		}
		found[n] = struct{}{}
	}
	scanText := func(text string) {
		for _, m := range harvestIDRe.FindAllStringSubmatch(text, -1) {
			add(m[1], m[2])
		}
	}
	scanText(body)
	scanText(html.UnescapeString(body))

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		visit := func(raw string) {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return
			}
			for _, value := range []string{raw, urlnorm.Resolve(pageURL, raw)} {
				if u, err := url.Parse(value); err == nil {
					for _, p := range urlnorm.ParsePairs(u.RawQuery) {
						add(p.Key, p.Value)
					}
				}
				scanText(value)
			}
		}
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) { visit(s.AttrOr("href", "")) })
		doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) { visit(s.AttrOr("action", "")) })
		doc.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
			add(pagetext.CompactWS(s.AttrOr("name", "")), s.AttrOr("value", ""))
		})
	}

	out := make([]int, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	return out
}

// matchesID reports whether p's URL carries the probed identifier.
func matchesID(p monitor.Product, id int) bool {
	for _, key := range productMatchKeys {
		if n, ok := urlnorm.QueryInt(p.URL, key); ok && n == id {
			return true
		}
	}
	return false
}

// normalizedShape strips volatile tokens so templated pages compare equal.
func normalizedShape(body string) string {
	text := compactLower(body)
	text = longHexRe.ReplaceAllString(text, "x")
	return longNumberRe.ReplaceAllString(text, "n")
}

func urlKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(pagetext.CompactWS(rawURL))
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme + "://" + u.Host + path)
}

// signature fingerprints a response by final URL path and normalized body.
// Identical templated pages hash equal even when they embed nonces.
func (s *Scanner) signature(finalURL, body string) string {
	key := urlKey(finalURL)
	shape := normalizedShape(body)
	if shape == "" {
		return key
	}
	digest, err := s.hasher.Hash([]byte(shape))
	if err != nil {
		return key + "::" + shape
	}
	if len(digest) > 20 {
		digest = digest[:20]
	}
	return key + "::" + digest
}

var fallbackTitleSelectors = []string{"h1", "h2", ".product-title", ".page-title"}

// fallbackName finds a product title on pages the extractor could not parse.
func fallbackName(doc *goquery.Document) string {
	for _, sel := range fallbackTitleSelectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		t := pagetext.Text(el)
		lower := strings.ToLower(t)
		n := len([]rune(t))
		if n >= 2 && n <= 120 && !strings.Contains(lower, "cart") && !strings.Contains(lower, "store") {
			return t
		}
	}
	var found string
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 || goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return true
		}
		t := pagetext.Text(s)
		lower := strings.ToLower(t)
		n := len([]rune(t))
		if n > 2 && n < 60 && !strings.Contains(lower, "cart") && !strings.Contains(lower, "store") {
			found = t
			return false
		}
		return true
	})
	return found
}
