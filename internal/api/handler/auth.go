package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/glowcast/payout-engine/internal/api/middleware"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthHandler issues development JWTs. Production deployments terminate auth
// at the platform gateway; this mock login exists for local and test use.
type AuthHandler struct {
	store *repository.Store
}

func NewAuthHandler(store *repository.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"` // Mock login by UserID
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "Invalid user_id")
		return
	}

	user, err := h.store.Queries().GetUser(r.Context(), uid)
	if err != nil {
		RespondError(w, r, http.StatusNotFound, "not-found", "User not found")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid.String(),
		"sub":     uid.String(),
		"role":    user.Role,
		"iss":     middleware.JWTIssuer(),
		"aud":     middleware.JWTAudience(),
		"iat":     now.Unix(),
		"exp":     now.Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failure", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString, "role": user.Role})
}
