// Package httpmw provides the composable net/http middleware stack shared
// by every route the orchestrator exposes (request ID, structured logging,
// CORS, compression). Auth and quota checks live in internal/admission —
// they are route-specific, not global middleware.
package httpmw

// contextKey namespaces values stored on the request context so they never
// collide with keys set by other packages.
type contextKey string

const (
	// RequestIDContextKey is the context key for the per-request ID.
	RequestIDContextKey contextKey = "request_id"
)

// HTTP headers used across the middleware stack.
const (
	RequestIDHeader = "X-Request-ID"
	APIVersionHeader = "X-API-Version"
)
