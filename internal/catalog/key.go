package catalog

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

var identityKeys = []string{"planid", "product_id", "pid", "id"}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

func nameKey(value string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(pagetext.CompactWS(value)), "")
}

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CanonicalKey returns the identity used to merge location and cycle variants
// of one plan. Explicit product identifiers win, scoped by the first path
// segments so that two stores on one host never collide. Distinct store paths
// stay distinct even when the rendered name is generic. Only products reachable
// through bare cart.php/index.php URLs fall back to name-based identity.
func CanonicalKey(p monitor.Product) string {
	u, err := url.Parse(p.URL)
	if err != nil {
		u = &url.URL{}
	}
	segments := splitPath(strings.ToLower(u.Path))
	if len(segments) > 3 {
		segments = segments[:3]
	}
	pathScope := strings.Join(segments, "/")

	query := map[string]string{}
	for _, pair := range urlnorm.ParsePairs(routeTail(u.RawQuery)) {
		key := strings.ToLower(pair.Key)
		if _, ok := query[key]; !ok {
			query[key] = pair.Value
		}
	}

	for _, key := range identityKeys {
		raw := pagetext.CompactWS(query[key])
		if raw == "" {
			continue
		}
		if pathScope != "" {
			return p.Domain + "::" + pathScope + "::" + key + ":" + raw
		}
		return p.Domain + "::" + key + ":" + raw
	}

	norm := urlnorm.ForID(p.URL)
	rp := strings.ToLower(pagetext.CompactWS(query["rp"]))
	if strings.HasPrefix(rp, "/store/") && len(splitPath(rp)) >= 3 {
		return p.Domain + "::url:" + norm
	}
	path := strings.ToLower(strings.Trim(u.Path, "/"))
	if path != "" && path != "cart.php" && path != "index.php" {
		return p.Domain + "::url:" + norm
	}

	variant, name := nameKey(p.VariantOf), nameKey(p.Name)
	switch {
	case variant != "" && name != "":
		return p.Domain + "::name:" + variant + ":" + name
	case name != "":
		return p.Domain + "::name:" + name
	}
	return p.Domain + "::url:" + norm
}

// routeTail drops a "?/cart/..." style route prefix from a raw query.
func routeTail(rawQuery string) string {
	if !strings.HasPrefix(rawQuery, "/") {
		return rawQuery
	}
	if _, tail, ok := strings.Cut(rawQuery, "&"); ok {
		return tail
	}
	return ""
}
