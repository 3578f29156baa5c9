package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	// HTTPRequestDuration tracks request latency by route and status class.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payout_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// PayoutRunsTotal counts finished runs by outcome.
	PayoutRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_runs_total",
			Help: "Payout runs by terminal status.",
		},
		[]string{"status"},
	)

	// DispatchItemsTotal counts settled payout items by outcome.
	DispatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_dispatch_items_total",
			Help: "Payout items by settlement outcome.",
		},
		[]string{"status"},
	)

	// QueueDepth is the current number of requests by queue stage.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payout_queue_depth",
			Help: "Payout requests awaiting action, by stage.",
		},
		[]string{"stage"},
	)

	// LedgerImbalanceTotal counts reconciliation sweeps that found a user
	// whose balance diverged from the ledger sum.
	LedgerImbalanceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payout_ledger_imbalance_total",
			Help: "Detected balance/ledger mismatches.",
		},
	)

	// IdempotencyEventsTotal counts idempotency key outcomes.
	IdempotencyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_idempotency_events_total",
			Help: "Idempotency key reservations, replays and conflicts.",
		},
		[]string{"event"},
	)
)

// Register installs the collectors exactly once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestDuration,
			PayoutRunsTotal,
			DispatchItemsTotal,
			QueueDepth,
			LedgerImbalanceTotal,
			IdempotencyEventsTotal,
		)
	})
}
