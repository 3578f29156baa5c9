package service

import (
	"context"
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/models"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// stageGiftCardRun submits and approves a gift card payout, runs a batch, and
// returns the staged fulfillment.
func stageGiftCardRun(t *testing.T, eng *testEngine, userID, operator uuid.UUID) (models.PayoutRun, models.GiftCardFulfillment) {
	t.Helper()
	ctx := context.Background()

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodGiftCard, "creator@example.com")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))

	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)

	f, err := eng.store.Queries().GetFulfillmentByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusPending, f.Status)
	require.Equal(t, "tango", f.Provider)
	require.Equal(t, req.USDAmount, f.AmountUSD)
	return run, f
}

func TestGiftCardRunWaitsForResolution(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	run, _ := stageGiftCardRun(t, eng, userID, operator)
	require.Equal(t, domain.RunStatusProcessing, run.Status)
	require.Nil(t, run.ProviderBatchID, "gift cards never reach the provider")

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusQueued, items[0].Status)
}

func TestResolveFulfillmentCompleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)
	run, f := stageGiftCardRun(t, eng, userID, operator)

	// Completion requires the purchased code.
	_, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusCompleted, Actor: operator,
	})
	require.Error(t, err)

	resolved, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusCompleted, Code: "TANGO-ABC-123", Actor: operator,
	})
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusCompleted, resolved.Status)
	require.NotNil(t, resolved.Code)
	require.Equal(t, "TANGO-ABC-123", *resolved.Code)

	finished, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, finished.Status)
	require.Equal(t, domain.ItemStatusSuccess, items[0].Status)

	got, err := eng.payouts.Get(ctx, f.RequestID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFulfilled, got.Status)

	rec, err := eng.thresholds.Record(ctx, userID, currentYear())
	require.NoError(t, err)
	require.Equal(t, got.USDAmount, rec.TotalPaidUSD)

	// Re-resolving with the same verdict is a replay: no error, and the
	// originally stored code survives.
	replayed, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusCompleted, Code: "TANGO-XYZ-999", Actor: operator,
	})
	require.NoError(t, err)
	require.Equal(t, "TANGO-ABC-123", *replayed.Code)

	// Thresholds were not double-counted by the replay.
	rec, err = eng.thresholds.Record(ctx, userID, currentYear())
	require.NoError(t, err)
	require.Equal(t, got.USDAmount, rec.TotalPaidUSD)
	require.Equal(t, int32(1), rec.PayoutCount)

	// Flipping the verdict after the fact is still a conflict.
	_, err = eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusFailed, FailureReason: "changed my mind", Actor: operator,
	})
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestResolveFulfillmentRepairsUnsettledItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)
	run, f := stageGiftCardRun(t, eng, userID, operator)

	// Resolve the fulfillment row directly, leaving the backing item queued:
	// the state a crash between the resolution write and the item settlement
	// leaves behind.
	code := "TANGO-ABC-123"
	rows, err := eng.store.Queries().ResolveFulfillment(ctx, repository.ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusCompleted, Code: &code,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusQueued, items[0].Status)

	// The retried PATCH settles the item instead of reporting a conflict.
	resolved, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusCompleted, Code: code, Actor: operator,
	})
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusCompleted, resolved.Status)

	finished, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, finished.Status)
	require.Equal(t, domain.ItemStatusSuccess, items[0].Status)

	got, err := eng.payouts.Get(ctx, f.RequestID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFulfilled, got.Status)
}

func TestResolveFulfillmentFailedRefunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)
	run, f := stageGiftCardRun(t, eng, userID, operator)

	// Failure requires a reason.
	_, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusFailed, Actor: operator,
	})
	require.Error(t, err)

	resolved, err := eng.fulfillments.Resolve(ctx, ResolveFulfillmentParams{
		ID: f.ID, Status: domain.FulfillmentStatusFailed, FailureReason: "card out of stock", Actor: operator,
	})
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusFailed, resolved.Status)

	got, err := eng.payouts.Get(ctx, f.RequestID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFailed, got.Status)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), bal.PaidCoins, "failed fulfillment refunds the coins")

	finished, _, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, finished.Status)
}

func TestResolveFulfillmentRejectsUnknownStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)

	_, err := eng.fulfillments.Resolve(context.Background(), ResolveFulfillmentParams{
		ID: uuid.New(), Status: "shipped", Actor: uuid.New(),
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
