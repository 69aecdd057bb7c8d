// Package enrich resolves availability, billing cycles and location variants
// from product detail pages.
package enrich

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
)

const outOfStockSelectors = ".outofstock, .out-of-stock, .soldout, [class*='outofstock'], [class*='soldout'], [class*='unavailable']"

const buttonSelectors = "a, button, input[type='submit'], input[type='button']"

var orderFormMarkers = []string{"billingcycle", "configoption[", "custom["}

// Inferrer resolves tri-state availability from a detail page. Domains listed
// as purchase overrides trust an enabled purchase button even without order
// form markers, because their templates carry stale sold-out banners.
type Inferrer struct {
	purchaseOverride map[string]struct{}
}

// NewInferrer constructs an Inferrer.
func NewInferrer(purchaseOverrideDomains []string) Inferrer {
	set := make(map[string]struct{}, len(purchaseOverrideDomains))
	for _, d := range purchaseOverrideDomains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return Inferrer{purchaseOverride: set}
}

// InferAvailability parses body and resolves its availability.
func (i Inferrer) InferAvailability(body, domain string) monitor.Availability {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return monitor.Unknown
	}
	_, override := i.purchaseOverride[strings.ToLower(domain)]
	return InferAvailability(doc, body, override)
}

// InferAvailability applies the detail-page rules in order: explicit sold-out
// elements, then button labels, then page text. Page-level "in stock" text is
// only trusted after the DOM found nothing contradicting it.
func InferAvailability(doc *goquery.Document, body string, purchaseOverride bool) monitor.Availability {
	page := pagetext.ExtractAvailability(body)
	lower := strings.ToLower(pagetext.CompactWS(body))
	hasOrderForm := false
	for _, marker := range orderFormMarkers {
		if strings.Contains(lower, marker) {
			hasOrderForm = true
			break
		}
	}

	result := monitor.Unknown
	decided := false
	doc.Find(outOfStockSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		txt := pagetext.Text(el)
		marker := pagetext.ExtractAvailability(txt)
		if marker == monitor.OutOfStock || (marker == monitor.Unknown && txt == "") {
			result, decided = monitor.OutOfStock, true
			return false
		}
		return true
	})
	if decided {
		return result
	}

	enabledBuy := false
	doc.Find(buttonSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		_, hasDisabled := el.Attr("disabled")
		disabled := hasDisabled || strings.Contains(strings.ToLower(el.AttrOr("class", "")), "disabled")
		label := pagetext.Text(el)
		if label == "" {
			label = pagetext.CompactWS(el.AttrOr("value", ""))
		}
		switch marker := pagetext.ExtractAvailability(label); {
		case marker == monitor.OutOfStock:
			result, decided = monitor.OutOfStock, true
			return false
		case marker == monitor.InStock && !disabled:
			result, decided = monitor.InStock, true
			return false
		case marker == monitor.Unknown && !disabled && pagetext.LooksLikePurchaseAction(label):
			enabledBuy = true
			if hasOrderForm || purchaseOverride {
				result, decided = monitor.InStock, true
				return false
			}
		}
		return true
	})
	if decided {
		return result
	}

	switch {
	case page == monitor.OutOfStock:
		return monitor.OutOfStock
	case enabledBuy, page == monitor.InStock:
		return monitor.InStock
	}
	return monitor.Unknown
}
