// Package main hosts the stock monitor entrypoint.
//
// One invocation performs a single pass by default:
//   - Load: the JSON state document at run.state_path is read; a missing or
//     corrupt file starts from an empty document.
//   - Crawl: the plan (full or lite) is fanned out to run.max_workers
//     concurrent target crawls. Each crawl fetches the seed page, discovers
//     listing and product pages, scans hidden product IDs and group IDs on
//     WHMCS/HostBill storefronts, and enriches products with detail pages.
//     Fetches go through colly with per-host rate limits, and optionally
//     through a headless Chromedp relay when a challenge page is detected.
//   - Reconcile: per-domain runs are merged into state. NEW, NEW LOCATION and
//     RESTOCK events are sent to Telegram and/or Pub/Sub after the merge.
//   - Save: state is written atomically, the dashboard is rendered to
//     run.output_path, and both are uploaded to GCS when a bucket is set.
//     Run and event history go to Postgres when a DSN is set.
//
// With -daemon the pass repeats on schedule.cron and an HTTP API serves
// /healthz, /readyz, /metrics, /v1/state, /v1/summary and POST /v1/runs.
// A Redis lease (redis.addr) keeps overlapping schedules from interleaving.
//
// Configuration comes from an optional file (-config) and STOCKMON_*
// environment variables; TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are also
// honored. Command-line flags override both.
//
// Quick checklist:
//   - One pass: go run ./cmd/stockmonitor -mode lite
//   - Explicit targets: -targets https://shop.example/,https://other.example/
//     (pruning is disabled for explicit target lists).
//   - Daemon: go run ./cmd/stockmonitor -daemon -config config.yaml
package main
