package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/configgen"
	"github.com/toolforge/deployctl/internal/model"
)

// getConfig implements spec.md §6 "GET /tool/{t}/config": reads the stored
// ToolConfig, re-fetching and overwriting it when source_url is set
// (spec.md §4.1 para 2).
func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	cfg, err := h.deps.Store.GetToolConfig(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}

	if cfg.SourceURL != "" && h.deps.SourceFetcher != nil {
		fresh, _, err := h.deps.SourceFetcher.FetchAndParse(r.Context(), cfg.SourceURL)
		if err != nil {
			writeError(w, err)
			return
		}
		fresh.SourceURL = cfg.SourceURL
		if err := h.deps.Store.SetToolConfig(r.Context(), tool, fresh); err != nil {
			writeError(w, err)
			return
		}
		cfg = fresh
	}

	writeOK(w, cfg)
}

// putConfig implements spec.md §6 "POST /tool/{t}/config": upsert,
// returning warnings for unknown fields (spec.md §4.1 point 1).
func (h *handler) putConfig(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg, warnings, err := model.DecodeToolConfigYAML(body)
	if err != nil {
		writeError(w, &apperrors.ValidationError{Messages: []string{err.Error()}})
		return
	}
	if verrs := model.ValidateToolConfig(cfg); len(verrs) > 0 {
		messages := make([]string, 0, len(verrs))
		for _, v := range verrs {
			messages = append(messages, v.Error())
		}
		writeError(w, &apperrors.ValidationError{Messages: messages})
		return
	}

	if err := h.deps.Store.SetToolConfig(r.Context(), tool, cfg); err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, cfg, warnings...)
}

// deleteConfig implements spec.md §6 "DELETE /tool/{t}/config".
func (h *handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	cfg, err := h.deps.Store.DeleteToolConfig(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, cfg)
}

// generateConfig implements spec.md §4.7/§6 "GET /tool/{t}/config/generate".
func (h *handler) generateConfig(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	cfg, warnings, err := configgen.Generate(r.Context(), h.deps.Adapter, tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg, warnings, nil)
}

// pathVar reads a gorilla/mux path variable.
func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
