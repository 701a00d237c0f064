package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/toolforge/deployctl/internal/admission"
	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
)

type createDeploymentRequest struct {
	ForceBuild bool `json:"force_build"`
	ForceRun   bool `json:"force_run"`
}

// createDeployment implements spec.md §6 "POST /tool/{t}/deployment" and
// §4.6's composition: config read (with source_url re-fetch) -> admission
// check -> persist -> schedule engine -> return.
func (h *handler) createDeployment(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())

	var req createDeploymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &apperrors.ValidationError{Messages: []string{"malformed request body: " + err.Error()}})
			return
		}
	}

	cfg, err := h.deps.Store.GetToolConfig(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg.SourceURL != "" && h.deps.SourceFetcher != nil {
		fresh, _, ferr := h.deps.SourceFetcher.FetchAndParse(r.Context(), cfg.SourceURL)
		if ferr != nil {
			writeError(w, ferr)
			return
		}
		fresh.SourceURL = cfg.SourceURL
		cfg = fresh
		if err := h.deps.Store.SetToolConfig(r.Context(), tool, cfg); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.deps.Quota.CheckActive(r.Context(), tool); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	d := model.Deployment{
		DeployID:     newDeployID(now),
		CreationTime: now.UTC().Format("20060102-150405"),
		ToolConfig:   cfg,
		Builds:       map[string]model.BuildProgress{},
		Runs:         map[string]model.RunProgress{},
		Status:       model.StatusPending,
		ForceBuild:   req.ForceBuild,
		ForceRun:     req.ForceRun,
	}
	if err := h.deps.Store.CreateDeployment(r.Context(), tool, d); err != nil {
		writeError(w, err)
		return
	}

	// The engine run must outlive this request; r.Context() is cancelled
	// the instant the handler returns.
	h.deps.Pool.Submit(func() {
		h.deps.Engine.Run(context.Background(), tool, d.DeployID)
	})

	writeMutationOK(w, d)
}

// listDeployments implements spec.md §6 "GET /tool/{t}/deployment", plus
// the supplemented `?status=` filter (SPEC_FULL §3).
func (h *handler) listDeployments(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	deployments, err := h.deps.Store.ListDeployments(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]model.Deployment, 0, len(deployments))
		for _, d := range deployments {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		deployments = filtered
	}

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreationTime < deployments[j].CreationTime
	})
	writeOK(w, deployments)
}

// latestDeployment implements spec.md §6 "GET /tool/{t}/deployment/latest".
func (h *handler) latestDeployment(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	deployments, err := h.deps.Store.ListDeployments(r.Context(), tool)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(deployments) == 0 {
		writeError(w, &apperrors.NotFound{Kind: "Deployment", ID: "latest"})
		return
	}
	latest := deployments[0]
	for _, d := range deployments[1:] {
		if d.CreationTime > latest.CreationTime {
			latest = d
		}
	}
	writeOK(w, latest)
}

// getDeployment implements spec.md §6 "GET /tool/{t}/deployment/{id}".
func (h *handler) getDeployment(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	d, err := h.deps.Store.GetDeployment(r.Context(), tool, pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, d)
}

// cancelDeployment implements spec.md §6 "PUT /tool/{t}/deployment/{id}/cancel"
// and §4.4's state machine: only pending|running may transition to
// cancelling; any other prior state is a conflict.
func (h *handler) cancelDeployment(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	id := pathVar(r, "id")

	d, err := h.deps.Store.GetDeployment(r.Context(), tool, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if d.Status != model.StatusPending && d.Status != model.StatusRunning {
		writeError(w, &apperrors.AdmissionError{Reason: "deployment " + id + " cannot be cancelled from status " + string(d.Status)})
		return
	}

	d.Status = model.StatusCancelling
	if err := h.deps.Store.UpdateDeployment(r.Context(), tool, d); err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, d)
}

// deleteDeployment implements spec.md §6 "DELETE /tool/{t}/deployment/{id}".
func (h *handler) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	tool, _ := admission.ToolFromContext(r.Context())
	d, err := h.deps.Store.DeleteDeployment(r.Context(), tool, pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeMutationOK(w, d)
}
