// Package middleware provides HTTP middleware shared by the orchestrator's
// router: path normalization for metric cardinality control and security
// headers.
package middleware

import (
	"net/http"
	"regexp"
)

// PathNormalizer collapses high-cardinality path segments — tool names and
// deploy ids — into fixed placeholders before they reach a metrics label.
// Without this, one time series is created per tool and per deployment,
// which on a multi-tenant Toolforge-scale install would mean an
// ever-growing Prometheus label set.
//
// Transformations:
//   - /tool/<name>  → /tool/:tool   (tool names are arbitrary, per-tenant)
//   - deploy ids (YYYYMMDD-HHMMSS-<10 alnum>, see handlers.newDeployID) → :id
type PathNormalizer struct {
	toolSegment  *regexp.Regexp
	deployIDPath *regexp.Regexp
}

// NewPathNormalizer creates a new path normalizer with default patterns.
func NewPathNormalizer() *PathNormalizer {
	return &PathNormalizer{
		toolSegment:  regexp.MustCompile(`/tool/[^/]+`),
		deployIDPath: regexp.MustCompile(`/\d{8}-\d{6}-[0-9a-z]{10}`),
	}
}

// NormalizePath normalizes a URL path by replacing dynamic segments.
//
// Examples:
//
//	"/v1/tool/mytool/deployment" → "/v1/tool/:tool/deployment"
//	"/v1/tool/mytool/deployment/20260115-093000-abc123def0" → "/v1/tool/:tool/deployment/:id"
//	"/healthz" → "/healthz" (unchanged)
func (n *PathNormalizer) NormalizePath(path string) string {
	if path == "" || path == "/" {
		return path
	}

	normalized := n.toolSegment.ReplaceAllString(path, "/tool/:tool")
	normalized = n.deployIDPath.ReplaceAllString(normalized, "/:id")

	return normalized
}

// Middleware returns an HTTP middleware that normalizes paths and stores the
// result for the metrics middleware to read instead of r.URL.Path.
func (n *PathNormalizer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			normalized := n.NormalizePath(r.URL.Path)
			r.Header.Set("X-Normalized-Path", normalized)
			next.ServeHTTP(w, r)
		})
	}
}

// PathNormalizationMiddleware returns a path normalization middleware using
// default patterns.
func PathNormalizationMiddleware() func(http.Handler) http.Handler {
	return NewPathNormalizer().Middleware()
}
