package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/glowcast/payout-engine/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler receives provider settlement callbacks.
type WebhookHandler struct {
	runs          *service.RunService
	hmacKey       []byte
	skipSignature bool
}

func NewWebhookHandler(runs *service.RunService, hmacKey string, skipSignature bool) *WebhookHandler {
	return &WebhookHandler{runs: runs, hmacKey: []byte(hmacKey), skipSignature: skipSignature}
}

type providerCallback struct {
	ProviderBatchID string                       `json:"provider_batch_id"`
	Items           []service.ProviderItemResult `json:"items"`
}

// HandleProviderCallback handles POST /v1/webhooks/provider. The payload is
// HMAC-SHA256 signed; replays are harmless because settled items are skipped.
func (h *WebhookHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if !h.skipSignature {
		signature := r.Header.Get("X-Webhook-Signature")
		if !h.verifySignature(body, signature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
	}

	var payload providerCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid callback payload")
		return
	}
	if payload.ProviderBatchID == "" {
		RespondError(w, r, http.StatusBadRequest, "validation", "provider_batch_id is required")
		return
	}

	if err := h.runs.ApplyProviderResults(r.Context(), payload.ProviderBatchID, payload.Items); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"provider_batch_id": payload.ProviderBatchID,
		"items_received":    len(payload.Items),
	})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.hmacKey) == 0 || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, h.hmacKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
