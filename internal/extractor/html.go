package extractor

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

var (
	cardSelectors  = []string{".package", ".product", ".plan", ".pricing", ".card"}
	cardClassHints = []string{"plan", "product", "package", "pricing", "card"}
	linkHints      = []string{"cart", "order", "buy", "checkout", "product", "plan", "package"}
	actionLabels   = []string{
		"buy", "order", "checkout", "cart", "learn more", "details", "view",
		"立即订购", "立即購買", "立即购买", "立即訂購", "加入购物车", "加入購物車",
		"查看购物车", "查看購物車", "购物车", "購物車",
	}
)

const (
	maxPromoteDepth = 5
	minCardText     = 8
	descriptionLen  = 400
)

// HTML extracts products from server-rendered storefront pages by locating
// pricing cards and scoring their purchase links.
type HTML struct {
	domain string
}

// NewHTML returns an HTML extractor bound to domain.
func NewHTML(domain string) *HTML {
	return &HTML{domain: strings.ToLower(domain)}
}

// Parse implements monitor.Extractor.
func (h *HTML) Parse(body, baseURL string) ([]monitor.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seenCard := map[*html.Node]struct{}{}
	var promoted []*goquery.Selection
	for _, card := range h.cards(doc) {
		best := h.promote(card, baseURL)
		node := best.Get(0)
		if _, ok := seenCard[node]; ok {
			continue
		}
		seenCard[node] = struct{}{}
		promoted = append(promoted, best)
	}

	seen := map[string]struct{}{}
	var products []monitor.Product
	for _, card := range promoted {
		text := pagetext.Text(card)
		if len([]rune(text)) < minCardText {
			continue
		}
		buyURL := h.buyURL(card, baseURL)
		if buyURL == "" || IsNonProductURL(buyURL) {
			continue
		}
		name := extractName(card)
		if name == "" {
			name = h.domain
		}
		if looksLikeActionLabel(name) {
			name = firstNonEmpty(nameFromURL(buyURL), name)
		}
		if lower := strings.ToLower(name); lower == h.domain || lower == urlnorm.Domain(buyURL) {
			name = firstNonEmpty(nameFromURL(buyURL), name)
		}

		id := h.domain + "::" + urlnorm.ForID(buyURL)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		price, currency := pagetext.ExtractPrice(text)
		specs := extractSpecs(card)
		if len(specs) == 0 {
			specs = specsFromPipes(text)
		}
		if len(specs) == 0 {
			specs = pagetext.SpecsFromText(text)
		}
		raw, _ := goquery.OuterHtml(card)
		products = append(products, monitor.Product{
			ID:            id,
			Domain:        h.domain,
			URL:           buyURL,
			Name:          name,
			Price:         price,
			Currency:      currency,
			Description:   truncateRunes(text, descriptionLen),
			Specs:         specs,
			Available:     pagetext.ExtractAvailability(text),
			BillingCycles: pagetext.CyclesFromSelection(card, raw),
			CyclePrices:   pagetext.CyclePricesFromSelection(card),
		})
	}
	return products, nil
}

func (h *HTML) cards(doc *goquery.Document) []*goquery.Selection {
	seen := map[*html.Node]struct{}{}
	var out []*goquery.Selection
	add := func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if _, ok := seen[node]; ok {
			return
		}
		seen[node] = struct{}{}
		out = append(out, s)
	}
	for _, sel := range cardSelectors {
		doc.Find(sel).Each(add)
	}
	for _, hint := range cardClassHints {
		doc.Find("[class*='" + hint + "']").Each(add)
	}
	return out
}

func (h *HTML) promote(card *goquery.Selection, baseURL string) *goquery.Selection {
	best, bestScore := card, h.cardScore(card, baseURL)
	cur := card
	for range maxPromoteDepth {
		cur = cur.Parent()
		if cur.Length() == 0 || goquery.NodeName(cur) == "html" {
			break
		}
		if score := h.cardScore(cur, baseURL); score > bestScore {
			best, bestScore = cur, score
		}
	}
	return best
}

func (h *HTML) cardScore(card *goquery.Selection, baseURL string) int {
	text := pagetext.Text(card)
	if text == "" {
		return -999
	}
	score := 0
	if n := len([]rune(text)); n >= 30 && n <= 2600 {
		score++
	}
	if extractName(card) != "" {
		score += 2
	}
	if price, _ := pagetext.ExtractPrice(text); price != "" {
		score += 2
	}
	if len(extractSpecs(card)) > 0 {
		score++
	}
	if h.buyURL(card, baseURL) != "" {
		score += 2
	}
	switch anchors := card.Find("a").Length(); {
	case anchors <= 8:
		score++
	case anchors >= 20:
		score--
	}
	return score
}

func (h *HTML) buyURL(card *goquery.Selection, baseURL string) string {
	type candidate struct {
		score int
		url   string
	}
	var candidates []candidate
	card.Find("a").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		abs := urlnorm.Resolve(baseURL, href)
		if abs == "" || isCartViewURL(abs) {
			return
		}
		lower := strings.ToLower(abs)
		label := strings.ToLower(pagetext.Text(a))
		score := 0
		if strings.Contains(lower, "/store/") || strings.Contains(lower, "rp=/store/") {
			score += 3
		}
		if strings.Contains(lower, "cart.php") && (strings.Contains(lower, "a=add") || strings.Contains(lower, "pid=")) {
			score += 2
		}
		for _, hint := range linkHints {
			if strings.Contains(lower, hint) || strings.Contains(label, hint) {
				score++
				break
			}
		}
		if !IsNonProductURL(abs) {
			score++
		}
		candidates = append(candidates, candidate{score: score, url: abs})
	})
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if candidates[0].score <= 0 {
		return ""
	}
	return candidates[0].url
}

func isCartViewURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "cart.php") && strings.Contains(lower, "a=view")
}

func splitParts(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.Trim(s, "/"), "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsNonProductURL reports whether rawURL points at a store index or category
// rather than a specific purchasable plan.
func IsNonProductURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if rp, ok := urlnorm.QueryValue(rawURL, "rp"); ok && strings.HasPrefix(rp, "/store/") {
		return len(splitParts(rp)) <= 2
	}
	path := strings.ToLower(u.Path)
	if _, after, ok := strings.Cut(path, "/products/"); ok {
		return len(splitParts(after)) <= 1
	}
	if _, after, ok := strings.Cut(path, "/store/"); ok {
		return len(splitParts(after)) <= 1
	}
	if strings.HasSuffix(path, "/cart.php") {
		_, hasGID := urlnorm.QueryValue(rawURL, "gid")
		_, hasPID := urlnorm.QueryValue(rawURL, "pid")
		return hasGID && !hasPID
	}
	return false
}

func looksLikeActionLabel(name string) bool {
	n := strings.ToLower(pagetext.CompactWS(name))
	if len([]rune(n)) <= 2 {
		return true
	}
	for _, bad := range actionLabels {
		if strings.Contains(n, bad) {
			return true
		}
	}
	return false
}

func extractName(card *goquery.Selection) string {
	for _, sel := range []string{"h1", "h2", "h3", ".title", ".name", "[class*='title']"} {
		if t := card.Find(sel).First(); t.Length() > 0 {
			if name := pagetext.Text(t); runeLenBetween(name, 2, 120) {
				return name
			}
		}
	}
	best := ""
	card.Find("a").Each(func(_ int, a *goquery.Selection) {
		label := pagetext.Text(a)
		if !runeLenBetween(label, 2, 120) || looksLikeActionLabel(label) {
			return
		}
		if len([]rune(label)) > len([]rune(best)) {
			best = label
		}
	})
	return best
}

func nameFromURL(rawURL string) string {
	if rp, ok := urlnorm.QueryValue(rawURL, "rp"); ok && strings.HasPrefix(rp, "/store/") {
		if parts := splitParts(rp); len(parts) >= 3 {
			return parts[len(parts)-1]
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if parts := splitParts(u.Path); len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func extractSpecs(card *goquery.Selection) monitor.Specs {
	var specs monitor.Specs
	keep := func(k, v string) bool {
		return runeLenBetween(k, 1, 60) && runeLenBetween(v, 1, 160)
	}
	card.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dts, dds := dl.Find("dt"), dl.Find("dd")
		for i := 0; i < dts.Length() && i < dds.Length(); i++ {
			k, v := pagetext.Text(dts.Eq(i)), pagetext.Text(dds.Eq(i))
			if keep(k, v) {
				specs = specs.Set(k, v)
			}
		}
	})
	card.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		k, v := pagetext.Text(cells.Eq(0)), pagetext.Text(cells.Eq(1))
		if keep(k, v) {
			specs = specs.Set(k, v)
		}
	})

	var items []string
	seen := map[string]struct{}{}
	card.Find("ul li, ol li").Each(func(_ int, li *goquery.Selection) {
		t := pagetext.Text(li)
		if n := len([]rune(t)); n < 3 || n > 180 {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		items = append(items, t)
	})
	if len(items) > 20 {
		items = items[:20]
	}
	idx := 1
	for _, item := range items {
		if k, v, ok := strings.Cut(item, ":"); ok {
			k, v = pagetext.CompactWS(k), pagetext.CompactWS(v)
			if _, exists := specs.Get(k); k != "" && v != "" && !exists {
				specs = specs.Set(truncateRunes(k, 60), truncateRunes(v, 160))
				continue
			}
		}
		specs = specs.Set(strconv.Itoa(idx), truncateRunes(item, 160))
		idx++
	}
	return specs
}

func specsFromPipes(text string) monitor.Specs {
	var parts []string
	for _, p := range strings.Split(text, "|") {
		if p = pagetext.CompactWS(p); runeLenBetween(p, 2, 120) {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return nil
	}
	var specs monitor.Specs
	for i, p := range parts {
		if i >= 20 {
			break
		}
		specs = specs.Set(strconv.Itoa(i+1), p)
	}
	return specs
}

func runeLenBetween(s string, lo, hi int) bool {
	n := len([]rune(s))
	return n >= lo && n <= hi
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
