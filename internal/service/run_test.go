package service

import (
	"context"
	"errors"
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStartRunRequiresEligibleRequests(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)

	_, err := eng.runs.StartRun(context.Background())
	require.ErrorIs(t, err, domain.ErrNoEligibleRequests)

	runs, err := eng.runs.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, runs, "no empty run row is created")
}

func TestStartRunSettlesDirectPayouts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 50_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-good")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))

	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, int32(1), run.TotalPayouts)
	require.Equal(t, int64(10_000), run.TotalCoins)
	require.NotNil(t, run.ProviderBatchID)
	require.NotNil(t, run.CompletedAt)

	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFulfilled, got.Status)

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.ItemStatusSuccess, items[0].Status)
	require.NotNil(t, items[0].ProviderItemID)

	rec, err := eng.thresholds.Record(ctx, userID, currentYear())
	require.NoError(t, err)
	require.Equal(t, req.USDAmount, rec.TotalPaidUSD)
	require.Equal(t, int32(1), rec.PayoutCount)
}

func TestStartRunTakesOldestRequestPerUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 50_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	first := submitTestPayout(t, eng, userID, 7_000, domain.MethodDirect, "acct-good")
	second := submitTestPayout(t, eng, userID, 8_000, domain.MethodDirect, "acct-good")
	require.NoError(t, eng.payouts.Approve(ctx, first.ID, operator))
	require.NoError(t, eng.payouts.Approve(ctx, second.ID, operator))

	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), run.TotalPayouts)

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, first.ID, items[0].RequestID)

	// The second becomes eligible once the first leaves processing.
	run2, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)
	_, items, err = eng.runs.Get(ctx, run2.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, second.ID, items[0].RequestID)
}

func TestStartRunSkipsHeldRequests(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 50_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-good")
	require.NoError(t, eng.holds.Hold(ctx, req.ID, operator, "kyc pending", nil))

	_, err := eng.runs.StartRun(ctx)
	require.ErrorIs(t, err, domain.ErrNoEligibleRequests)
}

func TestRunRecordsPartialFailures(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)
	good := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	bad := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	bounced := createTestUser(t, eng.store, domain.RoleCreator, 20_000)

	goodReq := submitTestPayout(t, eng, good, 10_000, domain.MethodDirect, "acct-good")
	badReq := submitTestPayout(t, eng, bad, 10_000, domain.MethodDirect, "acct-fail")
	bouncedReq := submitTestPayout(t, eng, bounced, 10_000, domain.MethodDirect, "acct-return")
	for _, id := range []uuid.UUID{goodReq.ID, badReq.ID, bouncedReq.ID} {
		require.NoError(t, eng.payouts.Approve(ctx, id, operator))
	}

	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, run.Status, "any failed item flags the run")

	counts, err := eng.store.Queries().GetRunItemStatusCounts(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Success)
	require.Equal(t, int64(1), counts.Failed)
	require.Equal(t, int64(1), counts.Returned)

	// The successful creator keeps the debit, the others are made whole.
	goodBal, err := eng.ledger.Balance(ctx, good)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), goodBal.PaidCoins)
	for _, u := range []uuid.UUID{bad, bounced} {
		bal, err := eng.ledger.Balance(ctx, u)
		require.NoError(t, err)
		require.Equal(t, int64(20_000), bal.PaidCoins)
	}

	gotBad, err := eng.payouts.Get(ctx, badReq.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFailed, gotBad.Status)
	require.NotNil(t, gotBad.FailureReason)
}

func TestDispatchTransportErrorLeavesItemsQueued(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-good")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))

	eng.gateway.Err = errors.New("provider unreachable")
	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err, "the run itself is durable; dispatch failure is logged")
	require.Equal(t, domain.RunStatusProcessing, run.Status)
	require.Nil(t, run.ProviderBatchID)

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusQueued, items[0].Status)

	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusProcessing, got.Status, "no refund on transport failure")

	// Provider comes back; retry replays the same batch key and settles.
	eng.gateway.Err = nil
	retried, err := eng.runs.Retry(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, retried.Status)

	_, err = eng.runs.Retry(ctx, run.ID)
	require.Error(t, err, "completed runs cannot be retried")
}

func TestApplyProviderResultsSettlesPendingItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-pending")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))

	run, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusProcessing, run.Status)
	require.NotNil(t, run.ProviderBatchID)

	_, items, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusQueued, items[0].Status)
	require.NotNil(t, items[0].ProviderItemID)

	err = eng.runs.ApplyProviderResults(ctx, "no-such-batch", nil)
	require.Error(t, err)

	err = eng.runs.ApplyProviderResults(ctx, *run.ProviderBatchID, []ProviderItemResult{
		{ProviderItemID: *items[0].ProviderItemID, Status: "success"},
		{ProviderItemID: "unknown-item", Status: "success"},
	})
	require.NoError(t, err, "unknown provider items are skipped")

	finished, _, err := eng.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, finished.Status)

	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFulfilled, got.Status)

	// Replaying the callback is harmless.
	err = eng.runs.ApplyProviderResults(ctx, *run.ProviderBatchID, []ProviderItemResult{
		{ProviderItemID: *items[0].ProviderItemID, Status: "success"},
	})
	require.NoError(t, err)
	rec, err := eng.thresholds.Record(ctx, userID, currentYear())
	require.NoError(t, err)
	require.Equal(t, int32(1), rec.PayoutCount, "replay does not double count")
}
