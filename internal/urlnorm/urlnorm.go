// Package urlnorm standardizes storefront URLs so that links differing only in
// tracking parameters, parameter order or cart routing collapse to one identity.
package urlnorm

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const cacheSize = 16384

var (
	trackingKeys = map[string]struct{}{
		"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
		"utm_content": {}, "utm_id": {}, "gclid": {}, "fbclid": {},
		"systpl": {}, "languagechange": {},
	}
	productKeys = map[string]struct{}{
		"pid": {}, "id": {}, "product": {}, "product_id": {}, "planid": {},
	}
	listingKeys = map[string]struct{}{
		"gid": {}, "fid": {}, "cat_id": {}, "step": {}, "billingcycle": {}, "cycle": {},
	}
)

var idCache = mustCache()

func mustCache() *lru.Cache[string, string] {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		panic(err)
	}
	return cache
}

// Pair is one decoded query parameter.
type Pair struct {
	Key   string
	Value string
}

// ForID normalizes a URL into the form used inside product IDs and dedup keys.
// Tracking parameters and the fragment are dropped, a trailing slash is removed
// and the remaining query is sorted. When a product identifier is present,
// listing and cycle parameters and any "?/cart/..." route prefix are dropped too.
func ForID(raw string) string {
	if cached, ok := idCache.Get(raw); ok {
		return cached
	}
	out := normalize(raw)
	idCache.Add(raw, out)
	return out
}

func normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}

	rawQuery := u.RawQuery
	routePrefix := ""
	if strings.HasPrefix(rawQuery, "/") {
		if idx := strings.Index(rawQuery, "&"); idx >= 0 {
			routePrefix, rawQuery = rawQuery[:idx], rawQuery[idx+1:]
		} else {
			routePrefix, rawQuery = rawQuery, ""
		}
	}

	pairs := ParsePairs(rawQuery)
	hasProductID := false
	for _, p := range pairs {
		if _, ok := productKeys[strings.ToLower(p.Key)]; ok {
			hasProductID = true
			break
		}
	}

	kept := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		lower := strings.ToLower(p.Key)
		if _, ok := trackingKeys[lower]; ok {
			continue
		}
		if hasProductID {
			if _, ok := listingKeys[lower]; ok {
				continue
			}
		}
		if strings.HasPrefix(p.Key, "/") && p.Value == "" {
			continue
		}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Key != kept[j].Key {
			return kept[i].Key < kept[j].Key
		}
		return kept[i].Value < kept[j].Value
	})

	encoded := make([]string, 0, len(kept))
	for _, p := range kept {
		encoded = append(encoded, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	query := strings.Join(encoded, "&")
	if routePrefix != "" && !hasProductID {
		if query != "" {
			query = routePrefix + "&" + query
		} else {
			query = routePrefix
		}
	}

	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	b.WriteString(u.Host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

// ParsePairs splits a raw query into ordered key/value pairs, keeping blanks.
func ParsePairs(rawQuery string) []Pair {
	if rawQuery == "" {
		return nil
	}
	parts := strings.Split(rawQuery, "&")
	out := make([]Pair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		out = append(out, Pair{Key: unescape(key), Value: unescape(value)})
	}
	return out
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// QueryValue returns the first value of key (case-insensitive) in rawURL.
func QueryValue(rawURL, key string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	rawQuery := u.RawQuery
	if strings.HasPrefix(rawQuery, "/") {
		if idx := strings.Index(rawQuery, "&"); idx >= 0 {
			rawQuery = rawQuery[idx+1:]
		} else {
			rawQuery = ""
		}
	}
	for _, p := range ParsePairs(rawQuery) {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// QueryInt returns the integer value of key in rawURL.
func QueryInt(rawURL, key string) (int, bool) {
	value, ok := QueryValue(rawURL, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Domain returns the lowercased host of rawURL without port.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsHTTP reports whether rawURL is an absolute http(s) URL.
func IsHTTP(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Root returns scheme://host of rawURL.
func Root(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// Resolve makes href absolute against base. It returns "" for unusable links.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") || strings.HasPrefix(href, "#") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	out := b.ResolveReference(ref)
	out.Fragment = ""
	return out.String()
}

// DedupeKeepOrder removes duplicates and empty entries, keeping the first
// occurrence. HTTP URLs are compared by their ForID form; anything else by exact text.
func DedupeKeepOrder(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		key := raw
		if IsHTTP(raw) {
			key = ForID(raw)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, raw)
	}
	return out
}
