package scanner

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

const idPlaceholder = "{id}"

var seedIDParamRe = regexp.MustCompile(`(?i)([?&]id=)\d+`)

// family holds the identifier keys and endpoint templates of one platform.
type family struct {
	platform       discovery.Platform
	itemKey        string
	groupKey       string
	itemEndpoints  []string
	groupEndpoints []string
}

func fill(template string, id int) string {
	return strings.ReplaceAll(template, idPlaceholder, strconv.Itoa(id))
}

type templateSet struct {
	seen map[string]struct{}
	out  []string
}

func (s *templateSet) add(u string) {
	if u == "" {
		return
	}
	key := strings.ToLower(strings.TrimSpace(u))
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.out = append(s.out, u)
}

// scanPrefixes lists the install prefixes worth probing under baseURL.
func scanPrefixes(baseURL string) []string {
	path := strings.ToLower(pathOf(baseURL))
	out := []string{""}
	if strings.Contains(path, "/billing") {
		out = append(out, "/billing")
	}
	if strings.Contains(path, "/clients") {
		out = append(out, "/clients")
	}
	return out
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func newFamily(platform discovery.Platform, baseURL string, seedURLs []string) family {
	if platform == discovery.PlatformHostBill {
		return family{
			platform:       platform,
			itemKey:        "id",
			groupKey:       "fid",
			itemEndpoints:  hostBillItemEndpoints(baseURL, seedURLs),
			groupEndpoints: hostBillGroupEndpoints(baseURL, seedURLs),
		}
	}
	root := urlnorm.Root(baseURL)
	f := family{platform: discovery.PlatformWHMCS, itemKey: "pid", groupKey: "gid"}
	if root == "" {
		return f
	}
	for _, pref := range scanPrefixes(baseURL) {
		f.itemEndpoints = append(f.itemEndpoints, root+pref+"/cart.php?a=add&pid="+idPlaceholder)
		f.groupEndpoints = append(f.groupEndpoints, root+pref+"/cart.php?gid="+idPlaceholder)
	}
	return f
}

// hostBillRouteBases lists route-style cart bases: the default routes under
// each prefix plus routes seen in seed URLs on the same host.
func hostBillRouteBases(baseURL string, seedURLs []string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	root := urlnorm.Root(baseURL)
	var set templateSet
	for _, pref := range scanPrefixes(baseURL) {
		set.add(root + pref + "/index.php?/cart/")
		set.add(root + pref + "/cart/")
	}
	candidates := append([]string{baseURL}, seedURLs...)
	for _, raw := range candidates {
		u, err := url.Parse(urlnorm.Resolve(baseURL, raw))
		if err != nil || !strings.EqualFold(u.Host, base.Host) {
			continue
		}
		if strings.HasPrefix(u.RawQuery, "/cart/") {
			route, _, _ := strings.Cut(u.RawQuery, "&")
			set.add(u.Scheme + "://" + u.Host + u.Path + "?" + route)
		}
		if strings.Contains(strings.ToLower(u.Path), "/cart/") {
			set.add(u.Scheme + "://" + u.Host + u.Path)
		}
	}
	return set.out
}

func appendParam(route, param string) string {
	if u, err := url.Parse(route); err == nil && u.RawQuery != "" {
		return route + "&" + param
	}
	return route + "?" + param
}

func hostBillItemEndpoints(baseURL string, seedURLs []string) []string {
	root := urlnorm.Root(baseURL)
	if root == "" {
		return nil
	}
	var set templateSet
	for _, pref := range scanPrefixes(baseURL) {
		set.add(root + pref + "/cart.php?action=add&id=" + idPlaceholder)
		set.add(root + pref + "/cart?action=add&id=" + idPlaceholder)
		set.add(root + pref + "/index.php?/cart/&action=add&id=" + idPlaceholder)
	}
	for _, route := range hostBillRouteBases(baseURL, seedURLs) {
		set.add(appendParam(route, "action=add&id="+idPlaceholder))
	}
	for _, raw := range seedURLs {
		abs := urlnorm.Resolve(baseURL, raw)
		if !strings.Contains(strings.ToLower(abs), "action=add") {
			continue
		}
		if _, ok := urlnorm.QueryInt(abs, "id"); !ok {
			continue
		}
		set.add(seedIDParamRe.ReplaceAllString(abs, "${1}"+idPlaceholder))
	}
	return set.out
}

func hostBillGroupEndpoints(baseURL string, seedURLs []string) []string {
	root := urlnorm.Root(baseURL)
	if root == "" {
		return nil
	}
	var set templateSet
	for _, pref := range scanPrefixes(baseURL) {
		set.add(root + pref + "/cart.php?fid=" + idPlaceholder)
		set.add(root + pref + "/cart?fid=" + idPlaceholder)
		set.add(root + pref + "/index.php?/cart/&fid=" + idPlaceholder)
	}
	for _, route := range hostBillRouteBases(baseURL, seedURLs) {
		set.add(appendParam(route, "fid="+idPlaceholder))
	}
	return set.out
}
