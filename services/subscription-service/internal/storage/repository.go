package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/outbox"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/internal/model"
)

var ErrNotFound = errors.New("subscription not found")

// Repository persists subscriptions under integer-version optimistic
// concurrency: every update is conditional on the version the caller
// loaded, checked server-side in the UPDATE itself.
type Repository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outboxRepo: outboxRepo}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Get(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error) {
	var sub model.Subscription
	var version int64
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, plan, status, version, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`, string(id)).Scan(&sub.ID, &sub.AccountID, &sub.Plan, &sub.Status, &version, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.SetVersion(version)
	return &sub, nil
}

// Save writes the aggregate and appends its pending events to the outbox
// inside tx. New aggregates insert at version 1; existing ones update
// conditionally on the version the aggregate was loaded at. Exactly one
// of two racing writers gets the increment, the other gets
// domain.ErrVersionConflict and nothing is mutated.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, sub *model.Subscription) error {
	if sub.Version() == 0 {
		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (id, account_id, plan, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
		`, string(sub.ID), sub.AccountID, string(sub.Plan), string(sub.Status), sub.CreatedAt, sub.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		sub.SetVersion(1)
	} else {
		expected := sub.Version()
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions
			SET plan = $2, status = $3, updated_at = $4, version = version + 1
			WHERE id = $1 AND version = $5
		`, string(sub.ID), string(sub.Plan), string(sub.Status), sub.UpdatedAt, expected)
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscription %s at version %d: %w", sub.ID, expected, domain.ErrVersionConflict)
		}
		sub.SetVersion(expected + 1)
	}
	return r.outboxRepo.Append(ctx, tx, sub.PendingEvents())
}
