// Package api hosts the HTTP server, middleware, and text handlers for the
// monitor. Routes:
//   - GET / reports that the bot is running.
//   - GET /check runs one watcher cycle synchronously and reports the
//     fingerprint.
//   - GET /health for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
