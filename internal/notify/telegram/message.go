package telegram

import (
	"fmt"
	"html"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

const (
	maxMessageLen     = 3900
	maxDescriptionLen = 300
	maxSpecLines      = 15
)

var specPriority = []string{
	"CPU", "RAM", "Disk", "Storage", "Transfer", "Traffic", "Bandwidth", "Port", "IPv4", "IPv6", "Location", "Data Center",
}

var nonTagChars = regexp.MustCompile(`[^a-z0-9]`)

type header struct {
	icon  string
	title string
}

var headers = map[monitor.EventKind]header{
	monitor.EventRestock:     {"🔄", "RESTOCK ALERT"},
	monitor.EventNew:         {"🆕", "NEW PRODUCT"},
	monitor.EventNewLocation: {"📍", "NEW LOCATION"},
}

// DomainTag turns a host into a short hashtag: the registrable label,
// skipping second-level suffixes such as co.uk.
func DomainTag(domain string) string {
	var labels []string
	for _, l := range strings.Split(strings.ToLower(domain), ".") {
		if l != "" {
			labels = append(labels, l)
		}
	}
	var candidate string
	switch n := len(labels); {
	case n == 0:
		return "site"
	case n >= 3 && slices.Contains([]string{"co", "com", "net", "org", "gov", "edu"}, labels[n-2]) && len(labels[n-1]) == 2:
		candidate = labels[n-3]
	case n >= 2:
		candidate = labels[n-2]
	default:
		candidate = labels[0]
	}
	if tag := nonTagChars.ReplaceAllString(candidate, ""); tag != "" {
		return tag
	}
	return "site"
}

func displayName(p monitor.Product) string {
	name := pagetext.CompactWS(p.Name)
	variant := pagetext.CompactWS(p.VariantOf)
	switch {
	case name == "" && variant == "":
		name = p.Domain
	case name == "":
		name = variant
	case variant != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(variant)):
		name = variant + " - " + name
	}
	if p.IsSpecial && !strings.HasPrefix(name, "⭐ ") {
		name = "⭐ " + name
	}
	return name
}

func statusLine(a monitor.Availability) string {
	switch a {
	case monitor.InStock:
		return "🟢 In Stock"
	case monitor.OutOfStock:
		return "🔴 Out of Stock"
	default:
		return "🟡 Unknown"
	}
}

// Format renders evt as a Telegram HTML message.
func Format(evt monitor.Event) string {
	p := evt.Product
	h, ok := headers[evt.Kind]
	if !ok {
		h = header{"📢", string(evt.Kind)}
	}
	esc := html.EscapeString

	parts := []string{
		fmt.Sprintf("%s <b>%s</b>  ·  <b>#%s</b>", h.icon, esc(h.title), esc(DomainTag(evt.Domain))),
		"<b>" + esc(displayName(p)) + "</b>",
	}

	info := []string{statusLine(p.Available)}
	if p.Price != "" {
		info = append(info, "💵 "+esc(p.Price))
	}
	location := p.Location
	if len(p.Locations) > 1 {
		location = fmt.Sprintf("%s +%d more", p.Locations[0], len(p.Locations)-1)
	}
	if location != "" {
		info = append(info, "📍 "+esc(location))
	}
	parts = append(parts, strings.Join(info, "  ·  "))

	if len(p.CyclePrices) > 0 {
		var lines []string
		for _, c := range pagetext.SortCycles(slices.Sorted(maps.Keys(p.CyclePrices))) {
			lines = append(lines, c+": "+p.CyclePrices[c])
		}
		parts = append(parts, "<pre>"+esc(strings.Join(lines, "\n"))+"</pre>")
	} else if len(p.BillingCycles) > 0 {
		parts = append(parts, "🔁 "+esc(strings.Join(p.BillingCycles, ", ")))
	}

	if lines := specLines(p.Specs); len(lines) > 0 {
		parts = append(parts, "<b>Specs:</b>\n<pre>"+esc(strings.Join(lines, "\n"))+"</pre>")
	}

	if desc := strings.TrimSpace(p.Description); desc != "" {
		if utf8.RuneCountInString(desc) > maxDescriptionLen {
			desc = string([]rune(desc)[:maxDescriptionLen]) + "..."
		}
		parts = append(parts, "<i>"+esc(desc)+"</i>")
	}

	parts = append(parts,
		fmt.Sprintf(`🔗 <a href="%s">Open Product Page</a>`, esc(p.URL)),
		"<code>"+esc(evt.At.UTC().Format(time.RFC3339))+"</code>",
	)
	msg := strings.Join(parts, "\n")
	if utf8.RuneCountInString(msg) > maxMessageLen {
		msg = string([]rune(msg)[:maxMessageLen])
	}
	return msg
}

// specLines orders specs by the priority list, then by key, and drops the
// cycle summary that is already rendered above.
func specLines(specs monitor.Specs) []string {
	rank := func(key string) int {
		if i := slices.Index(specPriority, key); i >= 0 {
			return i
		}
		return len(specPriority)
	}
	var items []monitor.Spec
	for _, s := range specs {
		if s.Key == "" || s.Value == "" || strings.EqualFold(pagetext.CompactWS(s.Key), "cycles") {
			continue
		}
		items = append(items, s)
	}
	slices.SortStableFunc(items, func(a, b monitor.Spec) int {
		if c := rank(a.Key) - rank(b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	lines := make([]string, 0, min(len(items), maxSpecLines))
	for _, s := range items[:min(len(items), maxSpecLines)] {
		lines = append(lines, s.Key+": "+s.Value)
	}
	return lines
}
