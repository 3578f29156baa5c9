package service

import (
	"context"
	"testing"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestSubmitReservesCoins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	require.Equal(t, domain.RequestStatusPending, req.Status)
	require.Equal(t, int64(10_000), req.CoinsRequested)
	// 10,000 coins at $0.003/coin is $30.
	require.Equal(t, int64(30_000_000), req.USDAmount)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.PaidCoins)

	entries, err := eng.ledger.Entries(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonPayoutReserve, entries[0].Reason)
	require.Equal(t, int64(-10_000), entries[0].Delta)
	require.NotNil(t, entries[0].RequestID)
	require.Equal(t, req.ID, *entries[0].RequestID)
}

func TestSubmitValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)

	_, err := eng.payouts.Submit(ctx, SubmitPayoutParams{
		UserID: userID, Coins: 6_999, Method: domain.MethodDirect,
		Destination: []byte(`{"account":"a"}`),
	})
	require.Error(t, err)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = eng.payouts.Submit(ctx, SubmitPayoutParams{
		UserID: userID, Coins: 10_000, Method: "wire",
		Destination: []byte(`{"account":"a"}`),
	})
	require.Error(t, err)

	_, err = eng.payouts.Submit(ctx, SubmitPayoutParams{
		UserID: userID, Coins: 10_000, Method: domain.MethodDirect,
	})
	require.Error(t, err)

	// Free coins are not withdrawable: balance has only free coins.
	freeUser := createTestUser(t, eng.store, domain.RoleCreator, 0)
	_, err = eng.ledger.Credit(ctx, freeUser, 50_000, domain.CoinTypeFree, domain.ReasonEarnedCoins)
	require.NoError(t, err)
	_, err = eng.payouts.Submit(ctx, SubmitPayoutParams{
		UserID: freeUser, Coins: 10_000, Method: domain.MethodDirect,
		Destination: []byte(`{"account":"a"}`),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestApproveThenDenyIsRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")

	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))
	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusApproved, got.Status)
	require.NotNil(t, got.ProcessedBy)
	require.Equal(t, operator, *got.ProcessedBy)

	err = eng.payouts.Deny(ctx, req.ID, operator, "second look")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDenyRefundsReservation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")

	require.Error(t, eng.payouts.Deny(ctx, req.ID, operator, ""), "reason is mandatory")

	require.NoError(t, eng.payouts.Deny(ctx, req.ID, operator, "fraud review"))
	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusDenied, got.Status)
	require.NotNil(t, got.FailureReason)
	require.Equal(t, "fraud review", *got.FailureReason)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), bal.PaidCoins)
}

func TestCancelOnlyWhilePending(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	require.NoError(t, eng.payouts.Cancel(ctx, req.ID, userID))

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), bal.PaidCoins)

	req2 := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	require.NoError(t, eng.payouts.Approve(ctx, req2.ID, operator))
	require.ErrorIs(t, eng.payouts.Cancel(ctx, req2.ID, userID), domain.ErrInvalidTransition)

	// Another creator cannot cancel someone else's request.
	stranger := createTestUser(t, eng.store, domain.RoleCreator, 0)
	req3 := submitTestPayout(t, eng, userID, 7_000, domain.MethodDirect, "acct-1")
	require.Error(t, eng.payouts.Cancel(ctx, req3.ID, stranger))
}

func TestHoldBlocksApproval(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")

	require.Error(t, eng.holds.Hold(ctx, req.ID, operator, "", nil), "reason is mandatory")
	require.NoError(t, eng.holds.Hold(ctx, req.ID, operator, "identity check", nil))

	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, got.Hold.IsHeld)
	require.Equal(t, "identity check", got.Hold.Reason)
	require.Equal(t, domain.RequestStatusPending, got.Status)

	require.Error(t, eng.payouts.Approve(ctx, req.ID, operator))

	// Double-hold is a conflict, release clears the way.
	require.ErrorIs(t, eng.holds.Hold(ctx, req.ID, operator, "again", nil), domain.ErrStaleState)
	require.NoError(t, eng.holds.Release(ctx, req.ID, operator))
	require.ErrorIs(t, eng.holds.Release(ctx, req.ID, operator), domain.ErrStaleState)
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))
}

func TestHoldOnlyWhilePending(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "acct-1")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))

	releaseAt := time.Now().Add(time.Hour)
	err := eng.holds.Hold(ctx, req.ID, operator, "too late", &releaseAt)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRequeueReclaimsReservation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 20_000)
	operator := createTestUser(t, eng.store, domain.RoleOperator, 0)

	// Destination "fail" makes the provider reject the item, which refunds.
	req := submitTestPayout(t, eng, userID, 10_000, domain.MethodDirect, "fail-acct")
	require.NoError(t, eng.payouts.Approve(ctx, req.ID, operator))
	_, err := eng.runs.StartRun(ctx)
	require.NoError(t, err)

	got, err := eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFailed, got.Status)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), bal.PaidCoins, "failure refunded the reservation")

	require.NoError(t, eng.payouts.Requeue(ctx, req.ID, operator))
	got, err = eng.payouts.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusPending, got.Status)

	bal, err = eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.PaidCoins, "requeue re-reserved the coins")
}
