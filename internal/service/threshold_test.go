package service

import (
	"context"
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/glowcast/payout-engine/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestThresholdFlagLatchesOn(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 0)
	year := currentYear()

	record := func(usdMicros int64) {
		err := eng.store.RunInTx(ctx, func(q *repository.Queries) error {
			_, err := eng.thresholds.RecordSuccessTx(ctx, q, userID, year, usdMicros)
			return err
		})
		require.NoError(t, err)
	}

	record(500_000_000) // $500
	rec, err := eng.thresholds.Record(ctx, userID, year)
	require.NoError(t, err)
	require.False(t, rec.Requires1099)
	require.Equal(t, int32(1), rec.PayoutCount)

	record(100_000_000) // running total hits $600 exactly
	rec, err = eng.thresholds.Record(ctx, userID, year)
	require.NoError(t, err)
	require.True(t, rec.Requires1099)
	require.Equal(t, int64(600_000_000), rec.TotalPaidUSD)

	record(5_000_000)
	rec, err = eng.thresholds.Record(ctx, userID, year)
	require.NoError(t, err)
	require.True(t, rec.Requires1099, "the flag never clears")

	// Years are independent.
	rec, err = eng.thresholds.Record(ctx, userID, year+1)
	require.NoError(t, err)
	require.False(t, rec.Requires1099)
	require.Zero(t, rec.TotalPaidUSD)
}

func TestThresholdSingleLargePayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	userID := createTestUser(t, eng.store, domain.RoleCreator, 0)
	year := currentYear()

	err := eng.store.RunInTx(ctx, func(q *repository.Queries) error {
		rec, err := eng.thresholds.RecordSuccessTx(ctx, q, userID, year, 900_000_000)
		require.NoError(t, err)
		require.True(t, rec.Requires1099)
		return nil
	})
	require.NoError(t, err)
}

func TestThresholdReportOrdersByTotal(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	eng := newTestEngine(t, db)
	ctx := context.Background()

	year := currentYear()
	small := createTestUser(t, eng.store, domain.RoleCreator, 0)
	big := createTestUser(t, eng.store, domain.RoleCreator, 0)
	under := createTestUser(t, eng.store, domain.RoleCreator, 0)

	err := eng.store.RunInTx(ctx, func(q *repository.Queries) error {
		if _, err := eng.thresholds.RecordSuccessTx(ctx, q, small, year, 700_000_000); err != nil {
			return err
		}
		if _, err := eng.thresholds.RecordSuccessTx(ctx, q, big, year, 2_000_000_000); err != nil {
			return err
		}
		_, err := eng.thresholds.RecordSuccessTx(ctx, q, under, year, 10_000_000)
		return err
	})
	require.NoError(t, err)

	report, err := eng.thresholds.Report(ctx, year, false)
	require.NoError(t, err)
	require.Len(t, report, 3, "every user with paid activity appears")
	require.Equal(t, big, report[0].UserID)
	require.Equal(t, small, report[1].UserID)
	require.Equal(t, under, report[2].UserID)
	require.True(t, report[0].Requires1099)
	require.False(t, report[2].Requires1099, "sub-threshold rows carry the unset flag")

	flagged, err := eng.thresholds.Report(ctx, year, true)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	require.Equal(t, big, flagged[0].UserID)
	require.Equal(t, small, flagged[1].UserID)
}
