// Package api implements the HTTP REST API of Inspection Core.
//
// This package provides:
//   - The auth gate: session token extraction, verification against the
//     rotating secret window, principal loading and transparent refresh
//   - Declarative per-route authorisation by role or permission
//   - Account endpoints (login, registration, password change, user admin)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Health and Prometheus metrics endpoints
//
// # Sessions
//
// A session token is accepted from the session cookie, an
// "Authorization: Bearer" header or the X-Session-Token header, in that
// order. When a verified token is close to expiry the gate issues a new one
// on the same response, as a cookie and as the X-Session-Token header, so
// active clients never see an expiry. A failed refresh is logged and counted
// but the request still succeeds.
//
// # Errors
//
// Every gate and authoriser failure is rendered by one responder with a
// stable upper-case code (NO_TOKEN, INVALID_TOKEN, ACCESS_DENIED, ...).
// Internal error detail is only included in development mode.
package api
