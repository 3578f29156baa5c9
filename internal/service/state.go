package service

import (
	"context"
	"fmt"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
)

// requestTransitions is the canonical payout request lifecycle. Terminal
// states are fulfilled and denied; failed re-enters pending only through an
// explicit operator requeue.
var requestTransitions = map[string][]string{
	domain.RequestStatusPending:    {domain.RequestStatusApproved, domain.RequestStatusDenied},
	domain.RequestStatusApproved:   {domain.RequestStatusProcessing},
	domain.RequestStatusProcessing: {domain.RequestStatusFulfilled, domain.RequestStatusFailed},
	domain.RequestStatusFailed:     {domain.RequestStatusPending},
}

func canTransition(from, to string) bool {
	for _, t := range requestTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// transitionRequest performs the compare-and-set status write. An illegal edge
// returns ErrInvalidTransition before touching the row; a legal edge that
// matches zero rows means another actor moved the request first and surfaces
// as ErrStaleState.
func transitionRequest(ctx context.Context, q *repository.Queries, id uuid.UUID, from, to string, failureReason *string, actor *uuid.UUID) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	rows, err := q.UpdateRequestStatus(ctx, repository.UpdateRequestStatusParams{
		ID:            id,
		FromStatus:    from,
		ToStatus:      to,
		FailureReason: failureReason,
		ProcessedBy:   actor,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("request %s no longer %s: %w", id, from, domain.ErrStaleState)
	}
	return nil
}
