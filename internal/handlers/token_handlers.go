package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
)

// getToken implements spec.md §6 "GET /tool/{t}/deployment/token".
func (h *handler) getToken(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	token, err := h.deps.Store.GetDeployToken(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, token)
}

// createToken implements spec.md §6 "POST ... /token": conflicts if a
// token already exists.
func (h *handler) createToken(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())

	if _, err := h.deps.Store.GetDeployToken(r.Context(), tool); err == nil {
		writeError(w, &apperrors.AlreadyExists{Kind: "DeployToken", ID: tool})
		return
	} else {
		var notFound *apperrors.NotFound
		if !errors.As(err, &notFound) {
			writeError(w, err)
			return
		}
	}

	token := model.DeployToken{Tool: tool, Token: uuid.New().String(), CreationDate: time.Now().UTC()}
	if err := h.deps.Store.SetDeployToken(r.Context(), tool, token); err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, token)
}

// refreshToken implements spec.md §6 "PUT ... /token": issues a fresh
// token regardless of whether one already existed.
func (h *handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	token := model.DeployToken{Tool: tool, Token: uuid.New().String(), CreationDate: time.Now().UTC()}
	if err := h.deps.Store.SetDeployToken(r.Context(), tool, token); err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, token)
}

// deleteToken implements spec.md §6 "DELETE ... /token".
func (h *handler) deleteToken(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	token, err := h.deps.Store.DeleteDeployToken(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, token)
}
