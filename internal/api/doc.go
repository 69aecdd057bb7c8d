// Package api hosts the daemon-mode HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes; readiness
//     waits for the first reconciled pass.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state for the persisted state document and GET /v1/summary for
//     the last pass counters.
//   - POST /v1/runs to start an extra pass when a trigger is wired.
package api
