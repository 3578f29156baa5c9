package repository

import (
	"context"
	"fmt"
)

type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

type ReserveIdempotencyKeyParams struct {
	Key         string
	RequestHash string
	Method      string
	Path        string
}

// ReserveIdempotencyKey claims a key for the current request. Returns false
// when the key already exists, in which case the caller replays or rejects
// based on the stored record.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	query := `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	tag, err := q.db.Exec(ctx, query, arg.Key, arg.RequestHash, arg.Method, arg.Path)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetIdempotencyRecord(ctx context.Context, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	query := `
		SELECT idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type
		FROM idempotency_keys
		WHERE idempotency_key = $1
	`
	err := q.db.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.RequestHash, &rec.Method, &rec.Path,
		&rec.InProgress, &rec.ResponseStatus, &rec.ResponseBody, &rec.ContentType,
	)
	return rec, err
}

type FinalizeIdempotencyKeyParams struct {
	Key            string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) error {
	query := `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $2, response_body = $3, content_type = $4, updated_at = NOW()
		WHERE idempotency_key = $1
	`
	if _, err := q.db.Exec(ctx, query, arg.Key, arg.ResponseStatus, arg.ResponseBody, arg.ContentType); err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	return nil
}

// DeleteIdempotencyKey releases a reservation after a handler error so the
// client can retry.
func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1`, key); err != nil {
		return fmt.Errorf("delete idempotency key: %w", err)
	}
	return nil
}
