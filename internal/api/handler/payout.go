package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/glowcast/payout-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PayoutHandler exposes submission and operator actions on payout requests.
type PayoutHandler struct {
	payouts *service.PayoutService
	holds   *service.HoldEngine
}

func NewPayoutHandler(payouts *service.PayoutService, holds *service.HoldEngine) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, holds: holds}
}

type submitPayoutRequest struct {
	Coins       int64           `json:"coins"`
	Method      string          `json:"method"`
	Destination json.RawMessage `json:"destination"`
}

// Submit handles POST /v1/payouts.
func (h *PayoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}

	var req submitPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	created, err := h.payouts.Submit(r.Context(), service.SubmitPayoutParams{
		UserID:      actor,
		Coins:       req.Coins,
		Method:      req.Method,
		Destination: req.Destination,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{
		"request_id": created.ID.String(),
		"status":     created.Status,
	})
}

// Get handles GET /v1/payouts/{id}: owner or operator only.
func (h *PayoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid request id")
		return
	}

	req, err := h.payouts.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	if req.UserID != actor && !isOperator {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "not your payout request")
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// Cancel handles POST /v1/payouts/{id}/cancel: requester only, pending only.
func (h *PayoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid request id")
		return
	}
	if err := h.payouts.Cancel(r.Context(), id, actor); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type operatorActionRequest struct {
	Reason    string     `json:"reason,omitempty"`
	ReleaseAt *time.Time `json:"release_at,omitempty"`
}

func decodeOptionalBody(r *http.Request) operatorActionRequest {
	var req operatorActionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

// Approve handles POST /v1/payouts/{id}/approve.
func (h *PayoutHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, func(id, actor uuid.UUID, _ operatorActionRequest) error {
		return h.payouts.Approve(r.Context(), id, actor)
	})
}

// Deny handles POST /v1/payouts/{id}/deny. Requires a reason.
func (h *PayoutHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, func(id, actor uuid.UUID, body operatorActionRequest) error {
		return h.payouts.Deny(r.Context(), id, actor, body.Reason)
	})
}

// Hold handles POST /v1/payouts/{id}/hold. Requires a reason.
func (h *PayoutHandler) Hold(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, func(id, actor uuid.UUID, body operatorActionRequest) error {
		return h.holds.Hold(r.Context(), id, actor, body.Reason, body.ReleaseAt)
	})
}

// Release handles POST /v1/payouts/{id}/release.
func (h *PayoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, func(id, actor uuid.UUID, _ operatorActionRequest) error {
		return h.holds.Release(r.Context(), id, actor)
	})
}

// Requeue handles POST /v1/payouts/{id}/requeue: failed requests re-enter the
// queue under a fresh reservation.
func (h *PayoutHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	h.operatorAction(w, r, func(id, actor uuid.UUID, _ operatorActionRequest) error {
		return h.payouts.Requeue(r.Context(), id, actor)
	})
}

func (h *PayoutHandler) operatorAction(w http.ResponseWriter, r *http.Request, fn func(id, actor uuid.UUID, body operatorActionRequest) error) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid request id")
		return
	}
	if err := fn(id, actor, decodeOptionalBody(r)); err != nil {
		RespondDomainError(w, r, err)
		return
	}

	req, err := h.payouts.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// List handles GET /v1/payouts for the authenticated user.
func (h *PayoutHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 32)
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 32)

	requests, err := h.payouts.ListByUser(r.Context(), actor, int32(limit), int32(offset))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"requests": requests})
}
