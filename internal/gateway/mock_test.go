package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestMockGatewayOutcomesByDestination(t *testing.T) {
	g := NewMockGateway()
	batchID, results, err := g.SubmitBatch(context.Background(), "batch-1", []BatchItem{
		{ItemKey: "k1", Destination: "acct-ok", AmountUSD: 21_000_000, Currency: "USD"},
		{ItemKey: "k2", Destination: "acct-fail", AmountUSD: 9_000_000, Currency: "USD"},
		{ItemKey: "k3", Destination: "acct-return", AmountUSD: 3_000_000, Currency: "USD"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)
	require.Len(t, results, 3)

	require.Equal(t, ResultSuccess, results[0].Status)
	require.Equal(t, ResultFailed, results[1].Status)
	require.Equal(t, "account_closed", results[1].FailureCode)
	require.Equal(t, ResultReturned, results[2].Status)
	for _, r := range results {
		require.NotEmpty(t, r.ProviderItemID)
	}
}

func TestMockGatewayReplaysSameBatchKey(t *testing.T) {
	g := NewMockGateway()
	items := []BatchItem{{ItemKey: "k1", Destination: "acct-ok", AmountUSD: 21_000_000, Currency: "USD"}}

	firstID, firstResults, err := g.SubmitBatch(context.Background(), "batch-1", items)
	require.NoError(t, err)

	// Retrying with the same key must not pay again, even if the caller
	// passes a different item set.
	secondID, secondResults, err := g.SubmitBatch(context.Background(), "batch-1", nil)
	require.NoError(t, err)
	require.Equal(t, firstID, secondID)
	require.Equal(t, firstResults, secondResults)
}

func TestMockGatewayTransportError(t *testing.T) {
	g := NewMockGateway()
	g.Err = errors.New("connection reset")

	_, _, err := g.SubmitBatch(context.Background(), "batch-1", []BatchItem{
		{ItemKey: "k1", Destination: "acct-ok", AmountUSD: 1, Currency: "USD"},
	})
	var dispatchErr *domain.ProviderDispatchError
	require.ErrorAs(t, err, &dispatchErr)
	require.Equal(t, "transport", dispatchErr.Code)

	// Transport errors record nothing, so a retry proceeds normally.
	g.Err = nil
	_, results, err := g.SubmitBatch(context.Background(), "batch-1", []BatchItem{
		{ItemKey: "k1", Destination: "acct-ok", AmountUSD: 1, Currency: "USD"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
