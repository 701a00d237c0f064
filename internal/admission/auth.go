// Package admission implements the two HTTP auth strategies and the
// active-deployment quota check composed into handler routes (spec.md
// §4.5), in the same composable net/http middleware style as the
// teacher's cmd/server middleware chain.
package admission

import (
	"context"
	"net/http"
	"time"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/storage"
)

type toolKey struct{}

// ToolFromContext returns the authenticated tool name, set by HeaderAuth or
// TokenOrHeaderAuth once a request passes.
func ToolFromContext(ctx context.Context) (string, bool) {
	tool, ok := ctx.Value(toolKey{}).(string)
	return tool, ok
}

// pathTool extracts the {t} path variable. Handlers register routes with
// gorilla/mux, which stores path variables for mux.Vars to read; this
// package does not import mux, so routes inject the raw tool name via
// r.WithContext before calling these middlewares — see
// internal/handlers/router.go.
type pathToolKey struct{}

// WithPathTool stashes the {t} path variable so the auth middlewares below
// can compare it against the caller-asserted tool.
func WithPathTool(r *http.Request, tool string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), pathToolKey{}, tool))
}

func pathTool(r *http.Request) string {
	tool, _ := r.Context().Value(pathToolKey{}).(string)
	return tool
}

// writeAuthError renders a 401 in the handler layer's JSON envelope shape,
// duplicated minimally here to avoid importing internal/handlers (which
// imports internal/admission for its middlewares).
func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.StatusCode(err))
	_, _ = w.Write([]byte(`{"data":null,"messages":{"info":[],"warning":[],"error":["` + err.Error() + `"]}}`))
}

// HeaderAuth implements spec.md §4.5 ensure_authenticated: the request must
// carry x-toolforge-tool, and its value must match the {t} path segment.
func HeaderAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tool := r.Header.Get("x-toolforge-tool")
		if tool == "" {
			writeAuthError(w, &apperrors.AuthError{Reason: "missing x-toolforge-tool header"})
			return
		}
		if want := pathTool(r); want != "" && want != tool {
			writeAuthError(w, &apperrors.AuthError{Reason: "x-toolforge-tool does not match the requested tool"})
			return
		}
		ctx := context.WithValue(r.Context(), toolKey{}, tool)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenOrHeaderAuth implements spec.md §4.5 ensure_token_or_auth: either
// the header above, or a `token` query parameter equal to the tool's
// stored DeployToken and no older than tokenLifetime.
func TokenOrHeaderAuth(store storage.Store, tokenLifetime time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tool := pathTool(r)

			if header := r.Header.Get("x-toolforge-tool"); header != "" {
				if tool != "" && header != tool {
					writeAuthError(w, &apperrors.AuthError{Reason: "x-toolforge-tool does not match the requested tool"})
					return
				}
				ctx := context.WithValue(r.Context(), toolKey{}, header)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			presented := r.URL.Query().Get("token")
			if presented == "" {
				writeAuthError(w, &apperrors.AuthError{Reason: "missing x-toolforge-tool header or token query parameter"})
				return
			}

			stored, err := store.GetDeployToken(r.Context(), tool)
			if err != nil {
				writeAuthError(w, &apperrors.AuthError{Reason: "no deploy token registered for this tool"})
				return
			}
			if stored.Token != presented {
				writeAuthError(w, &apperrors.AuthError{Reason: "token does not match"})
				return
			}
			if stored.Expired(tokenLifetime, time.Now()) {
				writeAuthError(w, &apperrors.AuthError{Reason: "token has expired"})
				return
			}

			ctx := context.WithValue(r.Context(), toolKey{}, tool)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
