package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/glowcast/payout-engine/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UserHandler manages creator accounts and the earned-coin ingestion path.
// The gift economy producing earnings lives outside this service; it feeds
// coins in through the operator credit endpoint.
type UserHandler struct {
	store  *repository.Store
	ledger *service.LedgerService
}

func NewUserHandler(store *repository.Store, ledger *service.LedgerService) *UserHandler {
	return &UserHandler{store: store, ledger: ledger}
}

// Create handles POST /v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if req.Username == "" {
		RespondError(w, r, http.StatusBadRequest, "validation", "username is required")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleCreator
	}
	if req.Role != domain.RoleCreator && req.Role != domain.RoleOperator {
		RespondError(w, r, http.StatusBadRequest, "validation", "role must be creator or operator")
		return
	}

	user := models.User{ID: uuid.New(), Username: req.Username, Role: req.Role}
	if err := h.store.Queries().CreateUser(r.Context(), &user); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, user)
}

// Credit handles POST /v1/users/{id}/credit: operator-only ingestion of
// earned coins.
func (h *UserHandler) Credit(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid user id")
		return
	}
	var req struct {
		Coins    int64  `json:"coins"`
		CoinType string `json:"coin_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if req.CoinType == "" {
		req.CoinType = domain.CoinTypePaid
	}

	entry, err := h.ledger.Credit(r.Context(), userID, req.Coins, req.CoinType, domain.ReasonEarnedCoins)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// Balance handles GET /v1/users/{id}/balance.
func (h *UserHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid user id")
		return
	}
	if userID != actor && !isOperator {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "not your balance")
		return
	}

	bal, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, bal)
}

// Ledger handles GET /v1/users/{id}/ledger.
func (h *UserHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	actor, isOperator, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", err.Error())
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid user id")
		return
	}
	if userID != actor && !isOperator {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "not your ledger")
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 32)
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 32)

	entries, err := h.ledger.Entries(r.Context(), userID, int32(limit), int32(offset))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
