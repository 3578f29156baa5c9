package service

import (
	"context"
	"sync"
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestCreditUpdatesBalanceAndLedger(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 0)

	entry, err := eng.ledger.Credit(ctx, userID, 10_000, domain.CoinTypePaid, domain.ReasonEarnedCoins)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), entry.Delta)
	require.Equal(t, int64(10_000), entry.BalanceAfter)

	_, err = eng.ledger.Credit(ctx, userID, 500, domain.CoinTypeFree, domain.ReasonEarnedCoins)
	require.NoError(t, err)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.PaidCoins)
	require.Equal(t, int64(500), bal.FreeCoins)

	paidTotal, err := eng.store.Queries().SumLedgerDeltas(ctx, userID, domain.CoinTypePaid)
	require.NoError(t, err)
	require.Equal(t, bal.PaidCoins, paidTotal)
}

func TestCreditRejectsBadInput(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 0)

	_, err := eng.ledger.Credit(ctx, userID, 0, domain.CoinTypePaid, domain.ReasonEarnedCoins)
	require.Error(t, err)

	_, err = eng.ledger.Credit(ctx, userID, 100, "gems", domain.ReasonEarnedCoins)
	require.Error(t, err)
}

func TestBalanceForUnknownUserIsZero(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)

	userID := createTestUser(t, eng.store, domain.RoleCreator, 0)
	bal, err := eng.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, bal.PaidCoins)
	require.Zero(t, bal.FreeCoins)
}

// Two concurrent submissions against a balance that can only cover one: the
// row lock serializes them, exactly one wins, and the balance never goes
// negative.
func TestConcurrentSubmitNeverOverdraws(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 10_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.payouts.Submit(ctx, SubmitPayoutParams{
				UserID:      userID,
				Coins:       8_000,
				Method:      domain.MethodDirect,
				Destination: []byte(`{"account":"acct-1"}`),
			})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	bal, err := eng.ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(2_000), bal.PaidCoins)

	total, err := eng.store.Queries().SumLedgerDeltas(ctx, userID, domain.CoinTypePaid)
	require.NoError(t, err)
	require.Equal(t, bal.PaidCoins, total)
}
