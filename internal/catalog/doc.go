// Package catalog collapses the URL-level artifacts of one crawl into a
// logical product catalog: canonical identity, variant merge, billing cycle
// defaults and noise filtering.
package catalog
