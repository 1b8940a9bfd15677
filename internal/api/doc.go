// Package api hosts the operator HTTP server that runs alongside a harvest.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the progress of the current run.
//   - GET /v1/run/sources/{source} for one source's stats.
//   - GET /v1/sites for the registered sources.
package api
