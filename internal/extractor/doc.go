// Package extractor turns storefront pages into product candidates.
//
// Two platform families are implemented: HTML storefronts (WHMCS, HostBill and
// similar templates rendered server side) and JSON store APIs used by single
// page storefronts. A Registry maps each domain to one extractor at startup.
package extractor
