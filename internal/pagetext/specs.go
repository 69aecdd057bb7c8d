package pagetext

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

type specPattern struct {
	key      string
	patterns []*regexp.Regexp
}

var specPatterns = []specPattern{
	{"CPU", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,3})\s*x?\s*(?:vCPU|vCore|CPU|Cores?)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,3})\s*v\s*(?:dedicated\s*)?cpu\b`),
		regexp.MustCompile(`(?i)\b(?:cpu|vcpu|vcore|cores?)\s*[:：]?\s*(\d{1,3})\s*x?\b`),
	}},
	{"RAM", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,5}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\s*(?:DDR\d\s*)?(?:RAM|vRAM|Memory|Mem)\b`),
		regexp.MustCompile(`(?i)\b(?:ram|memory|mem)\s*(?:[:：-]|\s)\s*(\d{1,5}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\b`),
	}},
	{"Disk", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,5}(?:\.\d+)?)\s*(?:TB|GB|MB)\s*(?:SSD|NVME|HDD|Disk|Storage)\b`),
		regexp.MustCompile(`(?i)\b(?:disk|storage|ssd|nvme|hdd)\s*[:：]?\s*(\d{1,5}(?:\.\d+)?)\s*(?:TB|GB|MB)\b`),
	}},
	{"Bandwidth", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,6}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\s*bandwidth\b`),
		regexp.MustCompile(`(?i)\bbandwidth\s*[:：]?\s*(\d{1,6}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\b`),
	}},
	{"Traffic", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,6}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\s*/\s*(?:month|mo|monthly)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,6}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)\s*(?:traffic|transfer|data\s*transfer)\b`),
		regexp.MustCompile(`(?i)\b(?:traffic|transfer|data\s*transfer|bandwidthtraffic)\s*[:：]?\s*(\d{1,6}(?:\.\d+)?)\s*(?:TB|T|GB|G|MB|M)(?:\s*/\s*(?:month|mo|monthly))?\b`),
	}},
	{"Port", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,5}(?:\.\d+)?)\s*(?:Mbps|Gbps)\b`),
	}},
}

// SpecsFromText extracts well-known hardware specs from free text.
func SpecsFromText(text string) monitor.Specs {
	t := CompactWS(text)
	var specs monitor.Specs
	for _, sp := range specPatterns {
		for _, re := range sp.patterns {
			if m := re.FindString(t); m != "" {
				specs = specs.Set(sp.key, CompactWS(m))
				break
			}
		}
	}
	bw, hasBW := specs.Get("Bandwidth")
	tr, hasTR := specs.Get("Traffic")
	if hasBW && hasTR && SpecValueNorm(bw) == SpecValueNorm(tr) {
		specs = specs.Delete("Traffic")
	}
	return specs
}

var specValueReplacer = strings.NewReplacer(
	" ", "",
	"/monthly", "", "/month", "", "/mo", "", "/月", "",
	"bandwidthtraffic", "", "bandwidth", "", "traffic", "", "transfer", "",
)

// SpecValueNorm reduces a spec value to its bare quantity so that
// "1 TB Bandwidth" and "Traffic: 1TB/mo" compare equal.
func SpecValueNorm(value string) string {
	raw := strings.ToLower(CompactWS(value))
	raw = specValueReplacer.Replace(raw)
	return strings.Trim(raw, ":：-")
}

var specialHints = []string{
	"special", "specials", "promo", "promotion", "deal", "flash sale", "black friday",
	"cyber monday", "limited offer", "特供", "專供", "专供", "限时", "限時",
}

// LooksLikeSpecialOffer reports whether a product is promotional.
func LooksLikeSpecialOffer(name, rawURL, description string) bool {
	blob := strings.ToLower(strings.Join([]string{name, rawURL, description}, " "))
	if strings.TrimSpace(blob) == "" {
		return false
	}
	return containsAny(blob, specialHints)
}
