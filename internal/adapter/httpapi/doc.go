// Package httpapi exposes the Container over a small admin HTTP API built on gin.
//
// Routes:
//
//	GET  /healthz  pool health (checkout + ping)
//	GET  /stats    pool counters and, when configured, recorded event totals
//	POST /query    {"query": "...", "params": {...}} run on one pooled connection
//	POST /tx       {"statements": [{"query": ...}, ...]} run inside one transaction
//
// Errors are classified with shared.KindOf and rendered as ErrorResponse.
// Every route is behind the per-client token bucket from RateLimit. When
// Options.Tokens is set, every route except /healthz requires
// "Authorization: Bearer <token>".
//
// Client is the matching Go client; failed calls return *APIError, which
// unwraps to the shared sentinel of the reported kind.
package httpapi
