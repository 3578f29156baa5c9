// Package outbox delivers critical operator alerts through a transactional
// job queue. Alerts are inserted in the same database transaction as the
// state change that raised them, so an alert is recorded iff the change
// committed, and delivery retries until the operator webhook acknowledges.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"
)

// Alert kinds raised by the engine.
const (
	KindFulfillmentFailed = "fulfillment_failed"
	KindStuckRun          = "stuck_run"
	KindStaleFulfillment  = "stale_fulfillment"
	KindLedgerImbalance   = "ledger_imbalance"
	KindBatchDispatch     = "batch_dispatch_error"
)

type CriticalAlertArgs struct {
	AlertKind string         `json:"kind"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (CriticalAlertArgs) Kind() string { return "critical_alert" }

func (CriticalAlertArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10, Queue: "alerts"}
}

// AlertWorker POSTs the alert to the operator webhook. A non-2xx response is
// an error so river retries with backoff.
type AlertWorker struct {
	river.WorkerDefaults[CriticalAlertArgs]

	webhookURL string
	httpClient *http.Client
}

func NewAlertWorker(webhookURL string) *AlertWorker {
	return &AlertWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *AlertWorker) Work(ctx context.Context, job *river.Job[CriticalAlertArgs]) error {
	if w.webhookURL == "" {
		zap.L().Warn("critical alert (no webhook configured)",
			zap.String("kind", job.Args.AlertKind),
			zap.String("message", job.Args.Message),
			zap.Any("fields", job.Args.Fields))
		return nil
	}

	body, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	zap.L().Info("critical alert delivered", zap.String("kind", job.Args.AlertKind))
	return nil
}

// Notifier enqueues critical alerts. Implementations must insert inside the
// caller's transaction when one is given.
type Notifier interface {
	CriticalTx(ctx context.Context, tx pgx.Tx, alert CriticalAlertArgs) error
	Critical(ctx context.Context, alert CriticalAlertArgs) error
}

// RiverNotifier inserts alerts as river jobs.
type RiverNotifier struct {
	client *river.Client[pgx.Tx]
}

func NewRiverNotifier(client *river.Client[pgx.Tx]) *RiverNotifier {
	return &RiverNotifier{client: client}
}

func (n *RiverNotifier) CriticalTx(ctx context.Context, tx pgx.Tx, alert CriticalAlertArgs) error {
	if _, err := n.client.InsertTx(ctx, tx, alert, nil); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}

func (n *RiverNotifier) Critical(ctx context.Context, alert CriticalAlertArgs) error {
	if _, err := n.client.Insert(ctx, alert, nil); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}

// NopNotifier logs and drops alerts. Used in tests and when the outbox is
// disabled.
type NopNotifier struct{}

func (NopNotifier) CriticalTx(_ context.Context, _ pgx.Tx, alert CriticalAlertArgs) error {
	zap.L().Warn("critical alert (outbox disabled)", zap.String("kind", alert.AlertKind), zap.String("message", alert.Message))
	return nil
}

func (NopNotifier) Critical(ctx context.Context, alert CriticalAlertArgs) error {
	return NopNotifier{}.CriticalTx(ctx, nil, alert)
}

// Migrate applies river's own schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("init river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	return nil
}

// NewClient builds the river client that both enqueues and works alert jobs.
func NewClient(pool *pgxpool.Pool, webhookURL string) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewAlertWorker(webhookURL))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			"alerts": {MaxWorkers: 2},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("init river client: %w", err)
	}
	return client, nil
}
