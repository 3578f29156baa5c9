package models

import (
	"encoding/json"
	"time"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"` // "creator" or "operator"
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the per-user coin balance split into withdrawable (paid) and
// non-withdrawable (free) sub-balances. Version increments on every mutation
// and guards cached reads against staleness.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	PaidCoins int64     `json:"paid_coins"`
	FreeCoins int64     `json:"free_coins"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is an immutable coin balance delta. Entries are only ever
// appended; corrections are new offsetting entries.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Delta        int64      `json:"delta"`
	CoinType     string     `json:"coin_type"`
	Reason       string     `json:"reason"`
	RequestID    *uuid.UUID `json:"request_id,omitempty"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Hold is an operator-imposed pause on a request, orthogonal to its status.
type Hold struct {
	IsHeld    bool       `json:"is_held"`
	Reason    string     `json:"reason,omitempty"`
	ReleaseAt *time.Time `json:"release_at,omitempty"`
}

type PayoutRequest struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	CoinsRequested int64      `json:"coins_requested"`
	USDAmount      int64      `json:"usd_amount_micros"`
	Method         string     `json:"method"` // "direct" or "gift_card"
	Destination    []byte     `json:"-"`
	Status         string     `json:"status"`
	Hold           Hold       `json:"hold"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	ProcessedBy    *uuid.UUID `json:"processed_by,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type PayoutRun struct {
	ID              uuid.UUID  `json:"id"`
	RunDate         time.Time  `json:"run_date"`
	Status          string     `json:"status"`
	TotalPayouts    int32      `json:"total_payouts"`
	TotalCoins      int64      `json:"total_coins"`
	TotalUSD        int64      `json:"total_usd_micros"`
	ProviderBatchID *string    `json:"provider_batch_id,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type PayoutItem struct {
	ID             uuid.UUID `json:"id"`
	RunID          uuid.UUID `json:"run_id"`
	RequestID      uuid.UUID `json:"request_id"`
	Destination    string    `json:"destination"`
	AmountUSD      int64     `json:"amount_usd_micros"`
	AmountCoins    int64     `json:"amount_coins"`
	Status         string    `json:"status"`
	ProviderItemID *string   `json:"provider_item_id,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ThresholdRecord tracks year-to-date paid-out USD per user for 1099
// reporting. Requires1099 is sticky once set.
type ThresholdRecord struct {
	UserID       uuid.UUID  `json:"user_id"`
	Year         int32      `json:"year"`
	TotalPaidUSD int64      `json:"total_paid_usd_micros"`
	PayoutCount  int32      `json:"payout_count"`
	Requires1099 bool       `json:"requires_1099"`
	LastPayoutAt *time.Time `json:"last_payout_at,omitempty"`
}

// MarshalJSON adds a total_paid_usd dollar string next to the raw micros, the
// same rendering the CSV export uses.
func (r ThresholdRecord) MarshalJSON() ([]byte, error) {
	type record ThresholdRecord
	return json.Marshal(struct {
		record
		TotalPaidUSDFormatted string `json:"total_paid_usd"`
	}{record(r), domain.FormatUSD(r.TotalPaidUSD)})
}

type GiftCardFulfillment struct {
	ID            uuid.UUID `json:"id"`
	RequestID     uuid.UUID `json:"request_id"`
	ItemID        uuid.UUID `json:"item_id"`
	Provider      string    `json:"provider"`
	AmountUSD     int64     `json:"amount_usd_micros"`
	Code          *string   `json:"code,omitempty"`
	Status        string    `json:"fulfillment_status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
