// Package handlers implements spec.md §6's HTTP surface: thin CRUD over
// storage (C2) and admission into the engine (C4), composed with
// gorilla/mux the same way the teacher's internal/api/router.go does
// (PathPrefix/Subrouter/Use).
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/engine"
	"github.com/toolforge/deployctl/internal/httpmw"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
	"github.com/toolforge/deployctl/internal/storage"
	"github.com/toolforge/deployctl/pkg/metrics"
	"github.com/toolforge/deployctl/pkg/middleware"
)

// Deps bundles everything the router needs to wire routes to collaborators.
type Deps struct {
	Store         storage.Store
	Adapter       runtime.Adapter
	Engine        *engine.Engine
	Pool          *engine.Pool
	Quota         *admission.QuotaChecker
	SourceFetcher model.SourceFetcher
	TokenLifetime time.Duration
	Logger        *slog.Logger
	HTTPMetrics   *metrics.HTTPMetrics
}

// NewRouter builds the full v1 API per spec.md §6.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPMetrics == nil {
		deps.HTTPMetrics = metrics.NewHTTPMetrics(nil, "deployctl", "http")
	}

	root := mux.NewRouter()
	root.Use(httpmw.RequestIDMiddleware)
	root.Use(httpmw.LoggingMiddleware(deps.Logger))
	root.Use(middleware.SecureHeaders())
	root.Use(httpmw.CompressionMiddleware)
	root.Use(httpmw.CORSMiddleware(httpmw.DefaultCORSConfig()))
	root.Use(middleware.PathNormalizationMiddleware())
	root.Use(deps.HTTPMetrics.Middleware)

	root.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)

	v1 := root.PathPrefix("/v1").Subrouter()
	tool := v1.PathPrefix("/tool/{t}").Subrouter()
	tool.Use(injectPathTool)

	h := &handler{deps: deps}

	header := admission.HeaderAuth
	tokenOrHeader := admission.TokenOrHeaderAuth(deps.Store, deps.TokenLifetime)

	configRouter := tool.PathPrefix("/config").Subrouter()
	configRouter.Use(header)
	configRouter.HandleFunc("", h.getConfig).Methods(http.MethodGet)
	configRouter.HandleFunc("", h.putConfig).Methods(http.MethodPost)
	configRouter.HandleFunc("", h.deleteConfig).Methods(http.MethodDelete)
	configRouter.HandleFunc("/generate", h.generateConfig).Methods(http.MethodGet)

	// Static suffixes (/latest, /token) must be registered before the
	// {id} wildcard routes, or gorilla/mux would match "token"/"latest"
	// as a deploy id first.
	deployRouter := tool.PathPrefix("/deployment").Subrouter()
	deployRouter.Use(header)
	deployRouter.HandleFunc("", h.listDeployments).Methods(http.MethodGet)
	deployRouter.HandleFunc("/latest", h.latestDeployment).Methods(http.MethodGet)
	deployRouter.HandleFunc("/token", h.getToken).Methods(http.MethodGet)
	deployRouter.HandleFunc("/token", h.createToken).Methods(http.MethodPost)
	deployRouter.HandleFunc("/token", h.refreshToken).Methods(http.MethodPut)
	deployRouter.HandleFunc("/token", h.deleteToken).Methods(http.MethodDelete)
	deployRouter.HandleFunc("/{id}/cancel", h.cancelDeployment).Methods(http.MethodPut)
	deployRouter.HandleFunc("/{id}", h.getDeployment).Methods(http.MethodGet)
	deployRouter.HandleFunc("/{id}", h.deleteDeployment).Methods(http.MethodDelete)

	// Deployment creation alone accepts token-or-header auth (spec.md §6).
	createRouter := tool.PathPrefix("/deployment").Subrouter()
	createRouter.Use(tokenOrHeader)
	createRouter.HandleFunc("", h.createDeployment).Methods(http.MethodPost)

	return root
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "OK"})
}

// injectPathTool bridges gorilla/mux's {t} path variable into the context
// key internal/admission's auth middlewares read, without internal/
// admission importing gorilla/mux.
func injectPathTool(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		next.ServeHTTP(w, admission.WithPathTool(r, vars["t"]))
	})
}

type handler struct {
	deps Deps
}
