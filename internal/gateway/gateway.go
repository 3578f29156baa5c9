// Package gateway adapts the engine to the external payout provider's batch
// API.
package gateway

import "context"

// BatchItem is one transfer inside a provider batch. ItemKey is the
// client-generated idempotency key for the item, derived from the run and
// request ids, so a retried batch cannot pay the same request twice.
type BatchItem struct {
	ItemKey     string
	Destination string
	AmountUSD   int64
	Currency    string
}

// Item outcome statuses as reported by the provider.
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultReturned = "returned"
	ResultPending  = "pending"
)

// ItemResult is the provider's per-item verdict.
type ItemResult struct {
	ItemKey        string
	ProviderItemID string
	Status         string
	FailureCode    string
}

// BatchGateway submits a batch of direct transfers. SubmitBatch must be safe
// to retry with the same batchKey: the provider deduplicates on it and
// returns the original results instead of paying twice.
type BatchGateway interface {
	SubmitBatch(ctx context.Context, batchKey string, items []BatchItem) (providerBatchID string, results []ItemResult, err error)
}
