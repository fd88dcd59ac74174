// Package statusapi serves read-only run history, change history, health
// and Prometheus metrics over HTTP for "stockwatch serve".
//
// Routes:
//   - GET /healthz          latest run status and store reachability
//   - GET /api/runs         recent run audit rows (limit)
//   - GET /api/runs/:id     one run with its decoded summary
//   - GET /api/changes      change log (code, type, since, limit)
//   - GET /metrics          Prometheus exposition
//
// When a token is configured, /api routes require "Authorization: Bearer <token>".
package statusapi
