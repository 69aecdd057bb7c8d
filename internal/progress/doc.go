// Package progress carries crawl-stage events from the orchestrator and
// scheduler to pluggable sinks. Events are batched on a background goroutine
// so emitters never block on logging or metrics.
package progress
