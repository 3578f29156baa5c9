package handler

import (
	"net/http"
	"strconv"

	"github.com/glowcast/payout-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RunHandler exposes batch run operations to operators.
type RunHandler struct {
	runs *service.RunService
}

func NewRunHandler(runs *service.RunService) *RunHandler {
	return &RunHandler{runs: runs}
}

// Start handles POST /v1/payout-runs: the manual batch trigger.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.StartRun(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, run)
}

// Get handles GET /v1/payout-runs/{id}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid run id")
		return
	}
	run, items, err := h.runs.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"run": run, "items": items})
}

// Retry handles POST /v1/payout-runs/{id}/retry.
func (h *RunHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid run id")
		return
	}
	run, err := h.runs.Retry(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, run)
}

// List handles GET /v1/payout-runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 32)
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 32)

	runs, err := h.runs.List(r.Context(), int32(limit), int32(offset))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
