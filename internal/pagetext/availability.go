package pagetext

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

var outOfStockWords = []string{
	"out of stock", "sold out", "unavailable", "no stock", "stockout", "out-of-stock",
	"sold-out", "not available", "已售罄", "售罄", "缺货", "無庫存", "无库存", "暂时缺货",
	"暫時缺貨", "不可用", "不可购买", "不可購買", "库存不足", "庫存不足",
}

var inStockStrongWords = []string{
	"in stock", "instock", "available now", "有库存", "有庫存", "库存充足", "庫存充足",
}

var purchaseWords = []string{
	"add to cart", "order now", "buy now", "加入购物车", "加入購物車", "立即购买", "立即購買",
	"立即订购", "立即訂購", "可购买", "可購買",
}

var (
	availCountRe = regexp.MustCompile(`(?i)(\d+)\s*(?:available|left|in\s*stock)\b`)
	availKVRe    = regexp.MustCompile(`(?i)(?:stock|inventory|available|left|库存|庫存|可用)\s*[:：]?\s*(-?\d+)\b`)
)

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func stockCounts(text string) []int {
	var counts []int
	for _, re := range []*regexp.Regexp{availKVRe, availCountRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil {
				counts = append(counts, n)
			}
		}
	}
	return counts
}

// ExtractAvailability resolves stock state from free text. Explicit stock counts
// win when they agree; otherwise out-of-stock words win unless a strong in-stock
// phrase also appears, in which case the result is Unknown. Purchase buttons
// alone never resolve anything here because they render on sold-out pages too.
func ExtractAvailability(text string) monitor.Availability {
	t := strings.ToLower(CompactWS(text))
	if counts := stockCounts(t); len(counts) > 0 {
		positive, nonPositive := false, false
		for _, c := range counts {
			if c > 0 {
				positive = true
			} else {
				nonPositive = true
			}
		}
		switch {
		case positive && !nonPositive:
			return monitor.InStock
		case nonPositive && !positive:
			return monitor.OutOfStock
		}
	}

	oos := containsAny(t, outOfStockWords)
	strong := containsAny(t, inStockStrongWords)
	switch {
	case oos && strong:
		return monitor.Unknown
	case oos:
		return monitor.OutOfStock
	case strong:
		return monitor.InStock
	}
	return monitor.Unknown
}

// LooksLikePurchaseAction reports whether a button label is a buy/order action.
func LooksLikePurchaseAction(label string) bool {
	t := strings.ToLower(CompactWS(label))
	if t == "" {
		return false
	}
	return containsAny(t, purchaseWords)
}
