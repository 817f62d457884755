package instrumentation

// Operation labels for Google API and store metrics.
const (
	OperationList   = "list"
	OperationGet    = "get"
	OperationCreate = "create"
	OperationAppend = "append"
	OperationVerify = "verify"
)

// RouteLabel bounds the route label of HTTP metrics. Requests that did not
// match a registered pattern all share the "unmatched" label.
func RouteLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}
