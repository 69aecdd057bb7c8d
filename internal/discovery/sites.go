// Package discovery expands a seed storefront page into a bounded queue of
// candidate listing pages and crawls them breadth-first under a deadline.
package discovery

import (
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// Platform identifies the storefront family behind a domain.
type Platform string

const (
	// PlatformUnknown is any storefront without a hidden-ID scan strategy.
	PlatformUnknown Platform = ""
	// PlatformWHMCS covers rp=/store and cart.php?pid= style stores.
	PlatformWHMCS Platform = "whmcs"
	// PlatformHostBill covers index.php?/cart/ style stores.
	PlatformHostBill Platform = "hostbill"
)

// Sites is the per-domain knowledge discovery needs: explicit extra entry
// pages and the domains known to run each platform.
type Sites struct {
	ExtraPages      map[string][]string `mapstructure:"extra_pages"`
	WHMCSDomains    []string            `mapstructure:"whmcs_domains"`
	HostBillDomains []string            `mapstructure:"hostbill_domains"`
}

// DefaultSites returns the built-in site table.
func DefaultSites() Sites {
	return Sites{
		ExtraPages: map[string][]string{
			"acck.io":  {"https://api.acck.io/api/v1/store/GetVpsStore"},
			"akile.io": {"https://api.akile.io/api/v1/store/GetVpsStoreV3"},
			"my.rfchost.com": {
				"https://my.rfchost.com/cart.php",
				"https://my.rfchost.com/index.php?rp=/store",
			},
			"app.vmiss.com": {
				"https://app.vmiss.com/cart.php",
				"https://app.vmiss.com/index.php?rp=/store",
			},
			"my.racknerd.com": {
				"https://my.racknerd.com/cart.php",
				"https://my.racknerd.com/index.php?rp=/store",
			},
			"clients.zgovps.com":           {"https://clients.zgovps.com/index.php?/cart/"},
			"clientarea.gigsgigscloud.com": {"https://clientarea.gigsgigscloud.com/cart/"},
			"www.dmit.io": {
				"https://www.dmit.io/cart.php",
				"https://www.dmit.io/pages/pricing",
				"https://www.dmit.io/pages/tier1",
				"https://www.dmit.io/index.php?rp=/store",
			},
			"cloud.colocrossing.com": {
				"https://cloud.colocrossing.com/index.php?rp=/store/specials",
				"https://cloud.colocrossing.com/cart.php",
				"https://cloud.colocrossing.com/index.php?rp=/store",
			},
			"bestvm.cloud": {
				"https://bestvm.cloud/cart.php",
				"https://bestvm.cloud/index.php?rp=/store",
			},
			"www.mkcloud.net": {
				"https://www.mkcloud.net/cart.php",
				"https://www.mkcloud.net/index.php?rp=/store",
			},
			"alphavps.com": {
				"https://alphavps.com/clients/cart.php",
				"https://alphavps.com/clients/index.php?rp=/store",
			},
		},
		WHMCSDomains: []string{
			"my.rfchost.com", "my.frantech.ca", "nmcloud.cc", "bgp.gd", "wap.ac",
			"www.bagevm.com", "backwaves.net", "cloud.ggvision.net", "cloud.colocrossing.com",
			"clients.zgovps.com", "my.racknerd.com", "cloud.boil.network", "bestvm.cloud",
			"www.mkcloud.net", "alphavps.com",
		},
		HostBillDomains: []string{"clientarea.gigsgigscloud.com", "clients.zgovps.com"},
	}
}

// Extra returns the explicit entry pages configured for domain.
func (s Sites) Extra(domain string) []string {
	return append([]string(nil), s.ExtraPages[strings.ToLower(domain)]...)
}

func listed(domains []string, domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

var hostBillMarkers = []string{
	"index.php?/cart/", "?/cart/", "action=add&id=", `name="id"`, "name='id'", "/cart/&step=",
}

// IsHostBill reports whether the domain or page looks like a HostBill store.
func (s Sites) IsHostBill(domain, body string) bool {
	if listed(s.HostBillDomains, domain) {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range hostBillMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsWHMCS reports whether the domain or page looks like a WHMCS store.
func (s Sites) IsWHMCS(domain, body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "whmcs") || strings.Contains(lower, "cart.php") || strings.Contains(lower, "rp=/store") {
		return true
	}
	return listed(s.WHMCSDomains, domain)
}

// DetectPlatform picks the hidden-ID scan family. HostBill wins when both match
// because its route-style cart also mentions cart.php.
func (s Sites) DetectPlatform(domain, body string) Platform {
	switch {
	case s.IsHostBill(domain, body):
		return PlatformHostBill
	case s.IsWHMCS(domain, body):
		return PlatformWHMCS
	default:
		return PlatformUnknown
	}
}

// DefaultEntryPoints lists the common listing URLs of billing storefronts.
func DefaultEntryPoints(baseURL string) []string {
	paths := []string{
		"/cart.php",
		"/index.php?rp=/store",
		"/store",
		"/cart",
		"/index.php?/cart/",
		"/products",
		"/billing/cart.php",
		"/billing/index.php?rp=/store",
		"/billing/store",
	}
	if strings.Contains(strings.ToLower(pathOf(baseURL)), "/clients") {
		paths = append(paths, "/clients/cart.php", "/clients/index.php?rp=/store", "/clients/store")
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if u := urlnorm.Resolve(baseURL, p); u != "" {
			out = append(out, u)
		}
	}
	return out
}
