// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/batches for creating, starting, pausing, retrying, deleting and
//     exporting batches.
//   - /v1/items/{id} for single-item retry and classified error details.
package api
