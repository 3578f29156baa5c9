package service

import (
	"context"
	"encoding/json"

	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// writeAudit records who did what to which entity. Audit rows ride the
// caller's transaction; a marshal failure only drops metadata, never the row.
func writeAudit(ctx context.Context, q *repository.Queries, entityType string, entityID uuid.UUID, actor *uuid.UUID, action string, prev, next *string, metadata map[string]any) error {
	var raw []byte
	if len(metadata) > 0 {
		var err error
		raw, err = json.Marshal(metadata)
		if err != nil {
			zap.L().Warn("audit metadata marshal failed", zap.Error(err))
			raw = nil
		}
	}
	return q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actor,
		Action:     action,
		PrevState:  prev,
		NextState:  next,
		Metadata:   raw,
	})
}

func strPtr(s string) *string { return &s }
