package handler

import (
	"encoding/json"
	"net/http"

	"github.com/glowcast/payout-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// FulfillmentHandler lets operators resolve staged gift-card fulfillments.
type FulfillmentHandler struct {
	fulfillments *service.FulfillmentService
}

func NewFulfillmentHandler(fulfillments *service.FulfillmentService) *FulfillmentHandler {
	return &FulfillmentHandler{fulfillments: fulfillments}
}

type resolveFulfillmentRequest struct {
	Status        string `json:"status"`
	Code          string `json:"code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Resolve handles PATCH /v1/fulfillments/{id}.
func (h *FulfillmentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid fulfillment id")
		return
	}
	var req resolveFulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	f, err := h.fulfillments.Resolve(r.Context(), service.ResolveFulfillmentParams{
		ID:            id,
		Status:        req.Status,
		Code:          req.Code,
		FailureReason: req.FailureReason,
		Actor:         actor,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, f)
}

// Get handles GET /v1/fulfillments/{id}.
func (h *FulfillmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid fulfillment id")
		return
	}
	f, err := h.fulfillments.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, f)
}
