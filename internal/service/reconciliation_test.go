package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/outbox"
	"github.com/stretchr/testify/require"
)

func TestSweepReleasesExpiredHolds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 40_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	expired := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, eng.holds.Hold(ctx, expired.ID, operator, "pending docs", &past))

	open := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, eng.holds.Hold(ctx, open.ID, operator, "pending docs", &future))

	indefinite := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	require.NoError(t, eng.holds.Hold(ctx, indefinite.ID, operator, "manual review", nil))

	rec := NewReconciler(eng.store, outbox.NopNotifier{}, time.Hour)
	require.NoError(t, rec.Sweep(ctx))

	got, err := eng.payouts.Get(ctx, expired.ID)
	require.NoError(t, err)
	require.False(t, got.Hold.IsHeld)

	stillHeld, err := eng.payouts.Get(ctx, open.ID)
	require.NoError(t, err)
	require.True(t, stillHeld.Hold.IsHeld, "future-dated holds stay")

	forever, err := eng.payouts.Get(ctx, indefinite.ID)
	require.NoError(t, err)
	require.True(t, forever.Hold.IsHeld, "undated holds stay until released")
}

func TestSweepFlagsStuckRuns(t *testing.T) {
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
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusProcessing, run.Status)

	stuck, err := eng.store.Queries().GetStuckRuns(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, run.ID, stuck[0].ID)

	// A zero-window reconciler treats every processing run as stuck; the sweep
	// alerts but leaves the run alone for an operator.
	rec := NewReconciler(eng.store, outbox.NopNotifier{}, 0)
	require.NoError(t, rec.Sweep(ctx))

	after, err := eng.store.Queries().GetPayoutRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusProcessing, after.Status)
}

func TestSweepFlagsStalePendingFulfillments(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodGiftCard, "creator@example.com")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))
	_, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)

	f, err := eng.store.Queries().GetFulfillmentByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusPending, f.Status)

	// An hour-wide window sees nothing yet.
	stale, err := eng.store.Queries().GetStalePendingFulfillments(ctx, time.Now().UTC().Add(-time.Hour), 100)
	require.NoError(t, err)
	require.Empty(t, stale)

	// A zero window treats it as stale immediately; the sweep alerts but the
	// fulfillment stays pending for the operator.
	stale, err = eng.store.Queries().GetStalePendingFulfillments(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, f.ID, stale[0].ID)

	rec := NewReconciler(eng.store, outbox.NopNotifier{}, 0)
	require.NoError(t, rec.Sweep(ctx))

	after, err := eng.store.Queries().GetFulfillment(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FulfillmentStatusPending, after.Status)
}

func TestLedgerMismatchDetection(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 10_000)

	mismatches, err := eng.store.Queries().GetLedgerBalanceMismatches(ctx)
	require.NoError(t, err)
	require.Empty(t, mismatches)

	// Corrupt the balance without a matching ledger entry.
	_, err = db.Exec(ctx, "UPDATE balances SET paid_coins = paid_coins + 999 WHERE user_id = $1", userID)
	require.NoError(t, err)

	mismatches, err = eng.store.Queries().GetLedgerBalanceMismatches(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	require.Equal(t, userID, mismatches[0].UserID)
	require.Equal(t, domain.CoinTypePaid, mismatches[0].CoinType)
	require.Equal(t, int64(10_999), mismatches[0].BalanceVal)
	require.Equal(t, int64(10_000), mismatches[0].LedgerTotal)

	rec := NewReconciler(eng.store, outbox.NopNotifier{}, time.Hour)
	require.NoError(t, rec.Sweep(ctx))
}
