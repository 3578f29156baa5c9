package service

import (
	"context"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
)

// RefundEngine reverses a payout reservation. A refund is always a single
// paid-coin credit for exactly coins_requested, tagged with the request id so
// the ledger shows reservation and release as a matched pair.
type RefundEngine struct {
	ledger *LedgerService
}

func NewRefundEngine(ledger *LedgerService) *RefundEngine {
	return &RefundEngine{ledger: ledger}
}

// RefundTx must run in the same transaction as the terminal status write:
// both commit or neither does.
func (e *RefundEngine) RefundTx(ctx context.Context, q *repository.Queries, req models.PayoutRequest) (models.LedgerEntry, error) {
	return e.ledger.CreditTx(ctx, q, req.UserID, req.CoinsRequested, domain.CoinTypePaid, domain.ReasonPayoutRefund, &req.ID)
}
