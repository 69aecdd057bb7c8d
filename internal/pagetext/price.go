package pagetext

import (
	"regexp"
	"sort"
	"strings"
)

var wsRe = regexp.MustCompile(`\s+`)

// CompactWS trims s and collapses internal whitespace runs to one space.
func CompactWS(s string) string {
	return wsRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

const amountPattern = `\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d{1,6}(?:[.,]\d{1,2})?`

var currencyTokens = []string{
	"HK$", "US$", "NT$", "$", "€", "£", "¥", "￥", "元",
	"USD", "EUR", "GBP", "HKD", "CNY", "RMB", "JPY", "TWD",
}

var (
	priceCurrencyFirst *regexp.Regexp
	priceAmountFirst   *regexp.Regexp
)

func init() {
	tokens := make([]string, len(currencyTokens))
	copy(tokens, currencyTokens)
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	alt := strings.Join(quoted, "|")
	priceCurrencyFirst = regexp.MustCompile(`(?i)(` + alt + `)\s*(` + amountPattern + `)`)
	priceAmountFirst = regexp.MustCompile(`(?i)(` + amountPattern + `)\s*(` + alt + `)`)
}

func normalizeAmount(amount string) string {
	s := strings.ReplaceAll(CompactWS(amount), " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	commas := strings.Count(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case commas > 0 && hasDot:
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		left, right, _ := strings.Cut(s, ",")
		if len(right) <= 2 {
			return left + "." + right
		}
		return left + right
	}
	return s
}

func normalizeCurrency(token string) string {
	upper := strings.ToUpper(token)
	switch upper {
	case "$", "US$":
		return "USD"
	case "€":
		return "EUR"
	case "£":
		return "GBP"
	case "¥", "￥", "元", "RMB":
		return "CNY"
	case "HK$":
		return "HKD"
	case "NT$":
		return "TWD"
	}
	return upper
}

// ExtractPrice finds the first price in text and returns it as "amount CUR"
// together with the currency code. Both are empty when no price is present.
func ExtractPrice(text string) (price, currency string) {
	t := CompactWS(text)
	if m := priceCurrencyFirst.FindStringSubmatch(t); m != nil {
		currency = normalizeCurrency(m[1])
		return normalizeAmount(m[2]) + " " + currency, currency
	}
	if m := priceAmountFirst.FindStringSubmatch(t); m != nil {
		currency = normalizeCurrency(m[2])
		return normalizeAmount(m[1]) + " " + currency, currency
	}
	return "", ""
}
