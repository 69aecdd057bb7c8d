// Package pagetext extracts storefront signals from page text and markup:
// prices, stock words and counts, billing cycles, hardware specs, location
// variants and promotional hints. Everything here is pure and safe for
// concurrent use.
package pagetext
