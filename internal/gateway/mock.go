package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/glowcast/payout-engine/internal/domain"
)

// MockGateway is a deterministic in-process provider used in development and
// tests. It honors the idempotency contract: a batchKey seen before replays
// the stored results without re-paying. Destinations control outcomes:
// those containing "fail" settle failed, "return" settle returned, "pending"
// stays pending until a callback, everything else succeeds.
type MockGateway struct {
	mu      sync.Mutex
	batches map[string]mockBatch

	// Err, when set, fails the whole SubmitBatch call before any item is
	// recorded, simulating a transport failure.
	Err error
}

type mockBatch struct {
	providerBatchID string
	results         []ItemResult
}

func NewMockGateway() *MockGateway {
	return &MockGateway{batches: make(map[string]mockBatch)}
}

func (g *MockGateway) SubmitBatch(_ context.Context, batchKey string, items []BatchItem) (string, []ItemResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.batches[batchKey]; ok {
		return prev.providerBatchID, prev.results, nil
	}
	if g.Err != nil {
		return "", nil, &domain.ProviderDispatchError{Code: "transport", Message: g.Err.Error()}
	}

	batch := mockBatch{providerBatchID: "mock-batch-" + shortHash(batchKey)}
	for _, item := range items {
		res := ItemResult{
			ItemKey:        item.ItemKey,
			ProviderItemID: "mock-item-" + shortHash(item.ItemKey),
			Status:         ResultSuccess,
		}
		switch {
		case strings.Contains(item.Destination, "pending"):
			res.Status = ResultPending
		case strings.Contains(item.Destination, "fail"):
			res.Status = ResultFailed
			res.FailureCode = "account_closed"
		case strings.Contains(item.Destination, "return"):
			res.Status = ResultReturned
			res.FailureCode = "recipient_returned"
		}
		batch.results = append(batch.results, res)
	}
	g.batches[batchKey] = batch
	return batch.providerBatchID, batch.results, nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
