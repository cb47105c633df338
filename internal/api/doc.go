// Package api hosts the HTTP server of the serve command. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the price store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/cycles to run a cycle now.
//   - GET /v1/cycles/latest for the last cycle report.
//   - GET /v1/ratelimits for the adaptive per-domain rates.
//   - GET /v1/history?url=...&limit=N for stored observations of a URL.
package api
