package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SchemaCaps records which historical storage shapes are present. The store
// probes once at startup and selects the matching query adapter, so services
// never branch per call.
type SchemaCaps struct {
	// BalanceVersion is true when balances carry the version column used by
	// the cache staleness guard. Legacy deployments predate it.
	BalanceVersion bool
}

// Queries is the hand-written query set. A Queries bound to a transaction
// also exposes the enclosing pgx.Tx for components (such as the alert
// outbox) that enqueue work transactionally.
type Queries struct {
	db   DBTX
	tx   pgx.Tx
	caps SchemaCaps
}

// New returns a query set assuming the current schema shape.
func New(db DBTX) *Queries {
	return &Queries{db: db, caps: SchemaCaps{BalanceVersion: true}}
}

// NewWithCaps returns a query set for an explicitly probed schema shape.
func NewWithCaps(db DBTX, caps SchemaCaps) *Queries {
	return &Queries{db: db, caps: caps}
}

// WithTx binds the query set to a transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx, tx: tx, caps: q.caps}
}

// Tx returns the enclosing transaction, or nil outside of one.
func (q *Queries) Tx() pgx.Tx {
	return q.tx
}

// DetectCaps probes information_schema for known historical shapes.
func DetectCaps(ctx context.Context, db DBTX) (SchemaCaps, error) {
	row := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'balances' AND column_name = 'version'
		)
	`)
	var caps SchemaCaps
	if err := row.Scan(&caps.BalanceVersion); err != nil {
		return SchemaCaps{}, fmt.Errorf("probe balance schema: %w", err)
	}
	return caps, nil
}

// Store provides access to queries and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// DetectSchema probes the live schema and pins the matching query adapter.
func (s *Store) DetectSchema(ctx context.Context) error {
	caps, err := DetectCaps(ctx, s.db)
	if err != nil {
		return err
	}
	s.queries = NewWithCaps(s.db, caps)
	return nil
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// Pool exposes the raw pool for health checks and auxiliary stores.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
