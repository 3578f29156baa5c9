package handler

import (
	"net/http"

	"github.com/glowcast/payout-engine/internal/service"
)

// OpsHandler serves operator dashboard queries.
type OpsHandler struct {
	depth *service.QueueDepthPublisher
}

func NewOpsHandler(depth *service.QueueDepthPublisher) *OpsHandler {
	return &OpsHandler{depth: depth}
}

// QueueDepth handles GET /v1/queue-depth. Dashboards wanting push instead of
// poll subscribe to the redis channel the engine publishes on.
func (h *OpsHandler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := h.depth.Depth(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"pending":  depth.Pending,
		"approved": depth.Approved,
		"channel":  service.QueueChannel,
	})
}
