// Package instrumentation provides OpenTelemetry metrics and tracing for urmindr.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route and status
//   - http_request_duration_seconds: request latency
//
// Completion:
//   - completion_requests_total: LLM completion calls by model and status
//   - completion_duration_seconds: completion latency
//
// Tools:
//   - tool_invocations_total: tool resolutions by tool and outcome
//   - tool_duration_seconds: tool execution latency
//
// Google APIs:
//   - google_api_operations_total: Calendar API calls by operation and status
//   - google_api_operation_duration_seconds: Calendar API latency
//
// Storage and delegated credentials:
//   - store_operations_total: conversation store calls by backend, operation and status
//   - oauth_token_refresh_total: delegated credential refresh attempts by result
//
// # Exporters
//
// Metrics default to a Prometheus reader served by the dedicated metrics
// server; OTLP and stdout are available. Tracing is off unless
// TRACING_EXPORTER is set to otlp or stdout.
//
// # Audit
//
// AuditLogger writes one structured line per tool invocation. Subject ids are
// hashed unless AUDIT_LOGGING_INCLUDE_PII is true.
package instrumentation
