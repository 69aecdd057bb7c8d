package extractor

import (
	"fmt"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

type safe struct {
	inner monitor.Extractor
}

// Safe wraps an extractor so a panic inside Parse surfaces as an error.
// Callers treat any error as zero products for that page.
func Safe(inner monitor.Extractor) monitor.Extractor {
	if inner == nil {
		return monitor.ExtractorFunc(func(string, string) ([]monitor.Product, error) { return nil, nil })
	}
	if _, ok := inner.(safe); ok {
		return inner
	}
	return safe{inner: inner}
}

func (s safe) Parse(body, baseURL string) (products []monitor.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			products = nil
			err = fmt.Errorf("parse %s: panic: %v", baseURL, r)
		}
	}()
	products, err = s.inner.Parse(body, baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", baseURL, err)
	}
	return products, nil
}
