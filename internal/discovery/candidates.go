package discovery

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

var (
	onclickQuotedRe = regexp.MustCompile(`['"]([^'"]+)['"]`)

	skipFragments = []string{
		"a=view", "/knowledgebase", "rp=/knowledgebase", "/login", "clientarea.php", "register",
		"/clientarea/", "/affiliates/", "/tickets/", "/chat/", "/userapi/", "/status/", "/signup/",
		"action=passreminder",
	}
	rootRelativePrefixes = []string{
		"cart/", "products/", "store/", "billing/", "cart.php", "index.php?/cart/",
		"index.php?/products/", "index.php?rp=/store",
	}
	onclickHints = []string{"cart", "store", "products", "pricing", "gid=", "fid="}
)

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func pathParts(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CartDepth returns how many category segments below a cart route still count
// as listing pages.
func CartDepth(platform Platform) int {
	if platform == PlatformHostBill {
		return 2
	}
	return 1
}

// Candidates extracts likely listing pages from a fetched page: anchors plus
// quoted targets inside onclick handlers, restricted to the page's host. The
// result is deduplicated and sorted by listing likelihood.
func Candidates(body, pageURL string, cartDepth int) []string {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	host := strings.ToLower(base.Host)
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" || u == pageURL {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	consider := func(href string) {
		if abs, ok := acceptCandidate(pageURL, host, href, cartDepth); ok {
			add(abs)
		}
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		consider(href)
	})
	doc.Find("[onclick]").Each(func(_ int, el *goquery.Selection) {
		onclick, _ := el.Attr("onclick")
		for _, m := range onclickQuotedRe.FindAllStringSubmatch(onclick, -1) {
			target := strings.TrimSpace(m[1])
			lower := strings.ToLower(target)
			if urlnorm.IsHTTP(target) || strings.HasPrefix(target, "/") || containsAny(lower, onclickHints) {
				consider(target)
			}
		}
	})

	lowerBody := strings.ToLower(body)
	lowerPage := strings.ToLower(pageURL)
	if len(out) == 0 && (strings.Contains(lowerBody, "whmcs") || strings.Contains(lowerPage, "/login")) {
		for _, p := range []string{"/cart.php", "/index.php?rp=/store", "/store"} {
			add(urlnorm.Resolve(pageURL, p))
		}
	}

	out = urlnorm.DedupeKeepOrder(out)
	sort.SliceStable(out, func(i, j int) bool { return candidateScore(out[i]) > candidateScore(out[j]) })
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func absolutize(pageURL, href string) string {
	lower := strings.ToLower(href)
	if urlnorm.IsHTTP(href) || strings.HasPrefix(href, "/") {
		return urlnorm.Resolve(pageURL, href)
	}
	for _, prefix := range rootRelativePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return urlnorm.Resolve(urlnorm.Root(pageURL)+"/", href)
		}
	}
	return urlnorm.Resolve(pageURL, href)
}

func acceptCandidate(pageURL, host, href string, cartDepth int) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	abs := absolutize(pageURL, href)
	if abs == "" {
		return "", false
	}
	u, err := url.Parse(abs)
	if err != nil || strings.ToLower(u.Host) != host {
		return "", false
	}
	lower := strings.ToLower(abs)
	if containsAny(lower, skipFragments) {
		return "", false
	}
	path := strings.ToLower(u.Path)

	switch {
	case strings.Contains(lower, "rp=/store"):
		rp, _ := urlnorm.QueryValue(abs, "rp")
		rp = strings.ToLower(rp)
		if strings.HasPrefix(rp, "/store/") {
			return abs, len(pathParts(rp)) <= 2
		}
		return abs, true
	case strings.Contains(path, "/store/"):
		after := strings.SplitN(path, "/store/", 2)[1]
		return abs, len(pathParts(after)) <= 1
	case strings.Contains(lower, "?/cart/"):
		tail := strings.SplitN(lower, "?/cart/", 2)[1]
		tail = strings.Trim(strings.SplitN(tail, "&", 2)[0], "/")
		return abs, tail == "" || strings.Count(tail, "/") <= cartDepth
	case strings.Contains(path, "/cart/"):
		after := strings.SplitN(path, "/cart/", 2)[1]
		return abs, len(pathParts(after)) <= cartDepth
	case strings.Contains(path, "/products/"):
		after := strings.SplitN(path, "/products/", 2)[1]
		return abs, len(pathParts(after)) <= 1
	case strings.Contains(lower, "cart.php") && (strings.Contains(lower, "gid=") || strings.HasSuffix(lower, "/cart.php")):
		return abs, true
	case strings.Contains(path, "/pages/pricing") || strings.HasSuffix(path, "/pricing"):
		return abs, true
	}
	return "", false
}

func candidateScore(rawURL string) int {
	lower := strings.ToLower(rawURL)
	score := 0
	if strings.Contains(lower, "/products/cart/") {
		score--
	}
	if strings.Contains(lower, "rp=/store") || strings.Contains(lower, "/store/") {
		score += 2
	}
	if strings.Contains(lower, "?/cart/") || strings.Contains(lower, "/cart/") {
		score += 2
	}
	if strings.Contains(lower, "/products/") {
		score += 2
	}
	if strings.Contains(lower, "cart.php?gid=") {
		score += 2
	}
	if strings.HasSuffix(lower, "/cart.php") {
		score++
	}
	if strings.Contains(lower, "/pages/pricing") || strings.HasSuffix(lower, "/pricing") {
		score++
	}
	return score
}

// IsPrimaryListing reports whether rawURL is a store's top-level listing page.
func IsPrimaryListing(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	q := strings.ToLower(u.RawQuery)
	switch {
	case strings.Contains(q, "rp=/store") && !strings.Contains(q, "rp=/store/"):
		return true
	case strings.HasSuffix(path, "/cart.php") && !strings.Contains(q, "pid=") && !strings.Contains(q, "a=add"):
		return true
	case strings.HasSuffix(path, "/store") && strings.Count(path, "/") <= 1:
		return true
	case strings.Contains(path, "/billing/") &&
		(strings.Contains(q, "rp=/store") || strings.HasSuffix(path, "/cart.php") || strings.HasSuffix(path, "/store")):
		return true
	}
	return false
}

// NeedsDiscovery reports whether the seed page alone looks insufficient.
func NeedsDiscovery(products []monitor.Product, seedURL string) bool {
	if len(products) == 0 {
		return true
	}
	useful, suspicious := 0, 0
	for _, p := range products {
		if p.Price != "" || len(p.Specs) > 0 {
			useful++
		}
		if catalog.LooksLikeNonProductPage(p.URL) {
			suspicious++
		}
	}
	if useful == 0 {
		return true
	}
	if len(products) <= 5 && suspicious >= max(1, len(products)-1) {
		return true
	}
	if len(products) == 1 {
		only, err := url.Parse(products[0].URL)
		seed, seedErr := url.Parse(seedURL)
		if err == nil && seedErr == nil && strings.TrimRight(only.Path, "/") == "" && only.Host == seed.Host {
			return true
		}
	}
	return false
}

// ShouldForce reports whether discovery should run even though the seed page
// produced products: landing pages often show one teaser per category.
func ShouldForce(candidates []string, productCount int, seedURL string, cfg Config) bool {
	if len(candidates) < 2 {
		return false
	}
	if productCount <= cfg.ForceIfProductsAtMost {
		return true
	}
	if IsPrimaryListing(seedURL) {
		return productCount <= cfg.ForceIfListingProductsAtMost
	}
	return false
}
