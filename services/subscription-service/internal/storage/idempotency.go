package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/httpx"
)

// IdempotencyStore is the pg-backed key ledger for the Idempotency-Key
// contract. The insert-if-absent on the primary key is the concurrency
// gate: of two racing requests with the same key, exactly one claims it.
type IdempotencyStore struct {
	pool      *db.Pool
	retention time.Duration
}

func NewIdempotencyStore(pool *db.Pool, retention time.Duration) *IdempotencyStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &IdempotencyStore{pool: pool, retention: retention}
}

func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) (httpx.IdempotencyRecord, httpx.IdempotencyOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (scope, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (scope, idempotency_key) DO NOTHING
	`, scope, key)
	if err != nil {
		return httpx.IdempotencyRecord{}, httpx.IdemInFlight, err
	}
	if tag.RowsAffected() == 1 {
		return httpx.IdempotencyRecord{}, httpx.IdemFresh, nil
	}

	var rec httpx.IdempotencyRecord
	var statusCode *int
	var body []byte
	var claimedAt time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT status_code, content_type, response_body, claimed_at
		FROM idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key).Scan(&statusCode, &rec.ContentType, &body, &claimedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row purged between insert attempt and lookup; retry
			// resolves it, treat as in flight for now.
			return httpx.IdempotencyRecord{}, httpx.IdemInFlight, nil
		}
		return httpx.IdempotencyRecord{}, httpx.IdemInFlight, err
	}

	if time.Since(claimedAt) > s.retention {
		// The retention window has passed; reset the key and let the
		// request execute afresh.
		if err := s.Release(ctx, scope, key); err != nil {
			return httpx.IdempotencyRecord{}, httpx.IdemInFlight, err
		}
		return s.Claim(ctx, scope, key)
	}
	if statusCode == nil {
		return httpx.IdempotencyRecord{}, httpx.IdemInFlight, nil
	}
	rec.StatusCode = *statusCode
	rec.Body = body
	return rec, httpx.IdemReplay, nil
}

func (s *IdempotencyStore) Finalize(ctx context.Context, scope, key string, rec httpx.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status_code = $3, content_type = $4, response_body = $5, finalized_at = now()
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key, rec.StatusCode, rec.ContentType, rec.Body)
	return err
}

func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key)
	return err
}

// DeleteExpired purges keys older than the retention window.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE claimed_at < $1
	`, time.Now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
