package pagetext

import (
	"regexp"
	"slices"
	"strings"
)

// Canonical billing cycle labels.
const (
	Monthly      = "Monthly"
	Quarterly    = "Quarterly"
	Semiannual   = "Semiannual"
	Yearly       = "Yearly"
	Biennial     = "Biennial"
	Triennial    = "Triennial"
	Quadrennial  = "Quadrennial"
	Quinquennial = "Quinquennial"
	OneTime      = "One-Time"
)

// CycleOrder is the display order of billing cycles.
var CycleOrder = []string{Monthly, Quarterly, Semiannual, Yearly, Biennial, Triennial, Quadrennial, Quinquennial, OneTime}

type cycleAlias struct {
	alias string
	label string
}

// Ordered so substring matching prefers the longest, most specific alias.
var cycleAliases = []cycleAlias{
	{"quinquennially", Quinquennial},
	{"quadrennially", Quadrennial},
	{"semi-annually", Semiannual},
	{"semiannually", Semiannual},
	{"semi-annual", Semiannual},
	{"triennially", Triennial},
	{"biennially", Biennial},
	{"quarterly", Quarterly},
	{"annually", Yearly},
	{"one-time", OneTime},
	{"one time", OneTime},
	{"monthly", Monthly},
	{"onetime", OneTime},
	{"quarter", Quarterly},
	{"annual", Yearly},
	{"yearly", Yearly},
	{"month", Monthly},
}

var shortCycleCodes = map[string]string{
	"m": Monthly, "q": Quarterly, "s": Semiannual, "a": Yearly, "b": Biennial, "t": Triennial,
}

// NormalizeCycleLabel maps a raw cycle code or label to a canonical label.
func NormalizeCycleLabel(raw string) string {
	v := strings.ToLower(CompactWS(raw))
	if v == "" {
		return ""
	}
	if label, ok := shortCycleCodes[v]; ok {
		return label
	}
	for _, a := range cycleAliases {
		if v == a.alias {
			return a.label
		}
	}
	for _, a := range cycleAliases {
		if strings.Contains(v, a.alias) {
			return a.label
		}
	}
	switch {
	case strings.Contains(v, "月"):
		return Monthly
	case strings.Contains(v, "季"):
		return Quarterly
	case strings.Contains(v, "半年"):
		return Semiannual
	case strings.Contains(v, "三年"):
		return Triennial
	case strings.Contains(v, "兩年"), strings.Contains(v, "两年"), strings.Contains(v, "二年"):
		return Biennial
	case strings.Contains(v, "年"):
		return Yearly
	case strings.Contains(v, "一次"):
		return OneTime
	}
	return ""
}

var (
	cycleTokenRe = regexp.MustCompile(`(?i)(monthly|quarterly|semi-annual(?:ly)?|semiannually|annually|yearly|biennially|triennially|quadrennially|quinquennially|one-?time|月付|月繳|季付|季繳|半年|年付|年繳|一次性)`)
	cycleClassRe = regexp.MustCompile(`(?i)\bcycle-([a-z]+)\b`)
	cycleQueryRe = regexp.MustCompile(`(?i)billingcycle=([a-z]+)`)
)

// AddCycle appends the canonical label of raw to cycles when it is new.
func AddCycle(cycles []string, raw string) []string {
	label := NormalizeCycleLabel(raw)
	if label == "" || slices.Contains(cycles, label) {
		return cycles
	}
	return append(cycles, label)
}

// CyclesFromText lists billing cycles mentioned in text, in order of appearance.
func CyclesFromText(text string) []string {
	t := CompactWS(text)
	if t == "" {
		return nil
	}
	var cycles []string
	for _, m := range cycleTokenRe.FindAllString(t, -1) {
		cycles = AddCycle(cycles, m)
	}
	for _, m := range cycleClassRe.FindAllStringSubmatch(t, -1) {
		cycles = AddCycle(cycles, m[1])
	}
	for _, m := range cycleQueryRe.FindAllStringSubmatch(t, -1) {
		cycles = AddCycle(cycles, m[1])
	}
	return cycles
}

// SortCycles orders labels by CycleOrder, unknown labels last in input order.
func SortCycles(labels []string) []string {
	out := slices.Clone(labels)
	rank := func(label string) int {
		if i := slices.Index(CycleOrder, label); i >= 0 {
			return i
		}
		return len(CycleOrder)
	}
	slices.SortStableFunc(out, func(a, b string) int { return rank(a) - rank(b) })
	return out
}
