// Package server exposes the urmindr assistant over HTTP.
//
// APIServer mounts the JSON API used by the chat frontend:
//   - POST /api/generate: one-shot completion without history
//   - POST /api/toolcall: a prompt inside a conversation, with tool resolution
//   - GET /chats: every conversation of the authenticated subject
//   - POST /api/cal/events: upcoming events for a delegated calendar token
//   - GET /api/cal/auth-url and GET /oauth2callback: the delegated
//     calendar authorization flow
//
// Bearer identity tokens are verified before a handler touches the
// conversation store or the model. Requests pass through recovery, security
// headers, CORS, per-IP rate limiting and request metrics.
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed. MetricsServer
// exposes Prometheus metrics on a dedicated port.
package server
