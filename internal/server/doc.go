// Package server provides the HTTP API for Observatory.
//
// This package is internal to Observatory and handles all HTTP concerns:
//
//   - Job submission at "POST /run-test", with duplicate detection surfaced
//     as 409 Conflict
//   - Queue inspection at "/queue/status", "/queue/running" and "/jobs/{id}"
//   - Server-Sent Events: job record changes at "/api/sse"
//   - Prometheus metrics at "/metrics" and a liveness probe at "/health"
//
// Every route except "/health" and "/metrics" requires the
// X-LiteLLM-Observatory-API-Key header when an API key is configured.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
