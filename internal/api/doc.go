// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /scrape for synchronous batches and POST /scrape/v2 for queued jobs.
//   - GET /scrape/v2/status/{jobId} and /scrape/v2/stats for job progress.
//   - GET /api/pages and /api/assets for browsing the cache.
//   - GET /health, /healthz, /readyz, and /metrics for operators.
//
// Every route is also reachable under the /api prefix.
package api
