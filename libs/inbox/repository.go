// Package inbox is the durable dedup ledger that turns at-least-once
// transport delivery into at-most-once application of each message. Every
// consumed message is claimed here before any business work happens; the
// unique key on message_id is the only concurrency gate.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Claim is the outcome of a claim attempt.
type Claim int

const (
	// ClaimAcquired: this consumer owns the message and must process it.
	ClaimAcquired Claim = iota
	// ClaimDuplicate: the message was already processed to completion;
	// treat the delivery as a successful no-op.
	ClaimDuplicate
	// ClaimBusy: another consumer holds a fresh IN_PROGRESS claim. The
	// transport will redeliver; by then the claim is either released or
	// stale enough to reclaim.
	ClaimBusy
)

type Repository struct {
	pool *db.Pool
	// reclaimAfter is the staleness timeout after which an IN_PROGRESS
	// row from a crashed consumer may be taken over. Size it as several
	// multiples of the expected handler time so a merely slow consumer
	// is not preempted.
	reclaimAfter time.Duration
}

func NewRepository(pool *db.Pool, reclaimAfter time.Duration) *Repository {
	if reclaimAfter <= 0 {
		reclaimAfter = 5 * time.Minute
	}
	return &Repository{pool: pool, reclaimAfter: reclaimAfter}
}

// claimDecision is what an existing ledger row allows a new claim to do.
type claimDecision int

const (
	// decideDuplicate: the message completed; treat as applied.
	decideDuplicate claimDecision = iota
	// decideRetake: the last attempt failed; take the row for retry.
	decideRetake
	// decideReclaim: the holder's claim is stale; attempt takeover.
	decideReclaim
	// decideBusy: a live claim exists; back off.
	decideBusy
)

// classify maps an existing row's state to a claim decision. now must be
// from the same clock that stamped claimedAt (the database's), so skew
// between app and DB clocks cannot shift the staleness window.
func classify(status Status, claimedAt, now time.Time, reclaimAfter time.Duration) claimDecision {
	switch status {
	case StatusDone:
		return decideDuplicate
	case StatusFailed:
		return decideRetake
	default:
		if now.Sub(claimedAt) >= reclaimAfter {
			return decideReclaim
		}
		return decideBusy
	}
}

// Claim atomically inserts an IN_PROGRESS row for messageID. When the row
// already exists the existing state decides: DONE is a duplicate delivery,
// FAILED is retaken for retry, and a stale IN_PROGRESS claim is reclaimed.
// Each take-over path is a single conditional UPDATE re-checking the state
// server-side, so two consumers racing on the same message see exactly one
// winner.
func (r *Repository) Claim(ctx context.Context, messageID string) (Claim, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_messages (message_id, status, claimed_at)
		VALUES ($1, 'IN_PROGRESS', now())
		ON CONFLICT (message_id) DO NOTHING
	`, messageID)
	if err != nil {
		return ClaimBusy, fmt.Errorf("claim insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return ClaimAcquired, nil
	}

	var status Status
	var claimedAt, dbNow time.Time
	err = r.pool.QueryRow(ctx, `
		SELECT status, claimed_at, now() FROM inbox_messages WHERE message_id = $1
	`, messageID).Scan(&status, &claimedAt, &dbNow)
	if err != nil {
		return ClaimBusy, fmt.Errorf("claim lookup: %w", err)
	}

	switch classify(status, claimedAt, dbNow, r.reclaimAfter) {
	case decideDuplicate:
		return ClaimDuplicate, nil
	case decideBusy:
		return ClaimBusy, nil
	case decideRetake:
		tag, err := r.pool.Exec(ctx, `
			UPDATE inbox_messages
			SET status = 'IN_PROGRESS', claimed_at = now(), completed_at = NULL
			WHERE message_id = $1 AND status = 'FAILED'
		`, messageID)
		if err != nil {
			return ClaimBusy, fmt.Errorf("claim retake: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return ClaimAcquired, nil
		}
		return ClaimBusy, nil
	default:
		tag, err := r.pool.Exec(ctx, `
			UPDATE inbox_messages
			SET claimed_at = now()
			WHERE message_id = $1 AND status = 'IN_PROGRESS'
			  AND claimed_at < now() - make_interval(secs => $2)
		`, messageID, r.reclaimAfter.Seconds())
		if err != nil {
			return ClaimBusy, fmt.Errorf("claim reclaim: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return ClaimAcquired, nil
		}
		return ClaimBusy, nil
	}
}

// MarkDone records successful processing. Only the full pipeline reaching
// commit may call this.
func (r *Repository) MarkDone(ctx context.Context, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE inbox_messages
		SET status = 'DONE', completed_at = now(), last_error = NULL
		WHERE message_id = $1
	`, messageID)
	return err
}

// MarkFailed records the error and keeps the row, so a redelivery with the
// same message ID is still recognized and can be retried or inspected.
func (r *Repository) MarkFailed(ctx context.Context, messageID string, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE inbox_messages
		SET status = 'FAILED', completed_at = now(), last_error = $2
		WHERE message_id = $1
	`, messageID, lastError)
	return err
}

// DeleteDoneBefore purges completed rows older than cutoff. The retention
// window must be at least the broker's maximum redelivery window or dedup
// coverage expires early.
func (r *Repository) DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM inbox_messages
		WHERE status = 'DONE' AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
