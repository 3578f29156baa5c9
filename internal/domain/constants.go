package domain

// Coin sub-balances. Only paid coins are withdrawable.
const (
	CoinTypePaid = "paid"
	CoinTypeFree = "free"
)

// Ledger entry reasons.
const (
	ReasonEarnedCoins   = "earned_coins"
	ReasonPayoutReserve = "payout_reserve"
	ReasonPayoutRefund  = "payout_refund"
	ReasonAdjustment    = "adjustment"
)

// Payout request lifecycle.
const (
	RequestStatusPending    = "pending"
	RequestStatusApproved   = "approved"
	RequestStatusDenied     = "denied"
	RequestStatusProcessing = "processing"
	RequestStatusFulfilled  = "fulfilled"
	RequestStatusFailed     = "failed"
)

// Payout run lifecycle.
const (
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// Per-item settlement outcomes inside a run.
const (
	ItemStatusQueued   = "queued"
	ItemStatusSuccess  = "success"
	ItemStatusFailed   = "failed"
	ItemStatusReturned = "returned"
)

// Gift-card fulfillment lifecycle.
const (
	FulfillmentStatusPending   = "pending"
	FulfillmentStatusCompleted = "completed"
	FulfillmentStatusFailed    = "failed"
)

// Settlement methods for a payout request.
const (
	MethodDirect   = "direct"
	MethodGiftCard = "gift_card"
)

// Operator/creator roles carried in JWT claims.
const (
	RoleCreator  = "creator"
	RoleOperator = "operator"
)

// ThresholdUSDMicros is the IRS 1099 reporting threshold: $600 in micros.
const ThresholdUSDMicros int64 = 600_000_000

// DefaultMinPayoutCoins is the business minimum for a payout request.
const DefaultMinPayoutCoins int64 = 7_000
