package catalog

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

var nonProductFragments = []string{
	"clientarea.php", "register", "login", "ticket", "tickets", "submitticket.php",
	"announcements", "knowledgebase", "downloads", "serverstatus", "contact", "about",
	"privacy", "terms", "tos", "protocol", "refund", "changelog", "status", "faq", "blog",
	"vps-hosting.php",
}

var noiseNameFragments = []string{
	"make payment", "transfer domains", "buy a domain", "order hosting", "browse all",
	"cart is empty", "introduction", "service introduction", "about us", "product category",
	"site introduction", "pricing and plans", "pricing table", "产品介绍", "產品介紹",
	"站点介绍", "網站介紹", "pricing only", "proceed to cart",
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// LooksLikeNonProductPage reports whether rawURL is an informational, account
// or listing page rather than a purchasable product.
func LooksLikeNonProductPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	q := strings.ToLower(u.RawQuery)
	full := strings.ToLower(rawURL)

	if hasAny(q, "action=add", "a=add", "a=configure") && hasAny(q, "pid=", "id=", "product=", "product_id=") {
		return false
	}
	if strings.Contains(path, "cart.php") && hasAny(q, "pid=", "product_id=") {
		return false
	}
	switch strings.TrimRight(path, "/") {
	case "/cart", "/products", "/store":
		if !hasAny(q, "a=add", "pid=", "id=", "product=", "gid=", "fid=") {
			return true
		}
	}
	if strings.Contains(path, "/products/cart/") && !hasAny(q, "a=add", "action=add", "pid=", "id=", "product=") {
		return true
	}
	if _, after, ok := strings.Cut(full, "?/cart/"); ok {
		tail, _, _ := strings.Cut(after, "&")
		if !strings.Contains(strings.Trim(tail, "/"), "/") && !hasAny(q, "a=add", "pid=", "id=", "product=") {
			return true
		}
	}
	if strings.Contains(full, "index.php?/products/") && !hasAny(q, "a=add", "action=add", "pid=", "id=", "product=") {
		return true
	}
	if strings.Contains(q, "a=view") && strings.Contains(path, "cart.php") {
		return true
	}
	if strings.Contains(path, "cart.php") && strings.Contains(q, "a=add") && !hasAny(q, "pid=", "id=", "product=", "product_id=") {
		return true
	}
	if hasAny(q, "domain=register", "domain=transfer") {
		return true
	}
	if hasAny(path, nonProductFragments...) {
		return true
	}
	return hasAny(q, "rp=/announcements", "rp=/knowledgebase")
}

// IsNoise reports whether p is an extraction false positive: navigation,
// support or marketing blocks, or an entry with no product signal at all.
func IsNoise(p monitor.Product) bool {
	name := strings.ToLower(pagetext.CompactWS(p.Name))
	if name == "" || LooksLikeNonProductPage(p.URL) {
		return true
	}
	lowerURL := strings.ToLower(p.URL)
	if hasAny(lowerURL, "/ticket", "/tickets", "submitticket", "support") {
		return true
	}
	if (name == "new" || name == "item" || name == "product") && strings.Contains(lowerURL, "cart") && p.Available == monitor.Unknown {
		return true
	}
	if hasAny(name, noiseNameFragments...) {
		return true
	}
	return p.Price == "" && len(p.Specs) == 0 && p.Available == monitor.Unknown
}

// FilterNoise drops noise products and returns how many were dropped.
func FilterNoise(products []monitor.Product) ([]monitor.Product, int) {
	out := make([]monitor.Product, 0, len(products))
	for _, p := range products {
		if !IsNoise(p) {
			out = append(out, p)
		}
	}
	return out, len(products) - len(out)
}

// DedupeAvailability combines two observations of the same product id within
// one run: out of stock wins, then in stock, otherwise unknown.
func DedupeAvailability(a, b monitor.Availability) monitor.Availability {
	switch {
	case a == monitor.OutOfStock || b == monitor.OutOfStock:
		return monitor.OutOfStock
	case a == monitor.InStock || b == monitor.InStock:
		return monitor.InStock
	}
	return monitor.Unknown
}

// DedupeByID keeps the first product per id, folding later duplicates into it.
func DedupeByID(products []monitor.Product) []monitor.Product {
	index := map[string]int{}
	out := make([]monitor.Product, 0, len(products))
	for _, p := range products {
		i, ok := index[p.ID]
		if !ok {
			index[p.ID] = len(out)
			out = append(out, p.Clone())
			continue
		}
		prev := out[i]
		prev.Available = DedupeAvailability(prev.Available, p.Available)
		if prev.Price == "" {
			prev.Price, prev.Currency = p.Price, p.Currency
		}
		if len(prev.Specs) == 0 {
			prev.Specs = p.Specs.Clone()
		}
		if prev.Description == "" {
			prev.Description = p.Description
		}
		if len(prev.BillingCycles) == 0 {
			prev.BillingCycles = slices.Clone(p.BillingCycles)
		}
		if len(prev.CyclePrices) == 0 {
			prev.CyclePrices = maps.Clone(p.CyclePrices)
		}
		prev.IsSpecial = prev.IsSpecial || p.IsSpecial
		out[i] = prev
	}
	return out
}

// MarkSpecials sets IsSpecial on products whose name, URL or description
// carries a promotional hint. It never clears an existing flag.
func MarkSpecials(products []monitor.Product) []monitor.Product {
	out := make([]monitor.Product, len(products))
	for i, p := range products {
		if !p.IsSpecial && pagetext.LooksLikeSpecialOffer(p.Name, p.URL, p.Description) {
			p = p.Clone()
			p.IsSpecial = true
		}
		out[i] = p
	}
	return out
}
