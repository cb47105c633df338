// Package cmd implements the pricewatch CLI.
//
// Architecture overview:
//   - Catalog: internal/catalog reads the sites and products JSON file, drops invalid entries with a warning and
//     strips URLs of disabled sites.
//   - Engine: internal/engine fans out over every product URL with a bounded errgroup. Each fetch passes the cycle
//     cache (duplicate URLs are fetched once), the per-site auth breaker and the adaptive per-domain rate limiter
//     before the fetch strategy runs. Transient failures are retried with exponential backoff.
//   - Strategies: API sites are read as JSON through gjson paths; scrape sites are parsed with goquery selectors,
//     optionally after a chromedp render. Pages that stop matching their selectors are archived to the snapshot
//     store (memory/local/GCS).
//   - Settle: per product, observations are compared with the stored record and with sibling listings, committed
//     to the store (memory/SQLite/Postgres), deduplicated against the alert ledger and sent through the capped
//     notifier (log/ntfy/Pub/Sub).
//   - Plumbing: viper populates config from file and PRICEWATCH_* env (a .env file is loaded first with gotenv);
//     zap provides structured logging; Prometheus metrics are served on /metrics in serve mode.
//
// Commands:
//   - check runs one cycle, prints a table and writes the JSON report.
//   - serve runs cycles on cycle.interval and serves the HTTP API until SIGINT/SIGTERM.
//   - history <url> prints the stored observations of a URL.
package cmd
