// Package monitor defines the data model shared by every stage of a stock
// monitoring run (products, domain runs, persisted state) together with the
// narrow capability interfaces the crawl engine consumes: page fetching,
// product extraction, notification, time and hashing.
package monitor
