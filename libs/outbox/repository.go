package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	otelx "github.com/jinto-josan/web-apps-sub001/libs/otel"
)

// Repository is the write and read side of the outbox table. Append runs
// inside the caller's transaction and performs no network I/O; the relay
// reads committed rows later from its own transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Append serializes the events produced by one business operation and
// inserts one row each, in call order, inside tx. Correlation and
// causation are taken from ctx, trace context from the global propagator.
// If tx rolls back, no rows survive.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	correlationID := correlation.CorrelationID(ctx)
	causationID := correlation.CausationID(ctx)

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("serialize %s: %w", e.EventType(), err)
		}
		aggregateType, aggregateID := subjectOf(e)
		_, err = tx.Exec(ctx, `
			INSERT INTO outbox_events
				(event_id, event_type, aggregate_type, aggregate_id, payload,
				 correlation_id, causation_id, traceparent, tracestate)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		`, e.EventID(), e.EventType(), aggregateType, aggregateID, payload,
			correlationID, causationID, traceparent, tracestate)
		if err != nil {
			return fmt.Errorf("append outbox row for %s: %w", e.EventType(), err)
		}
	}
	return nil
}

// FetchUndispatched returns up to limit pending rows in creation order,
// locked for this relay pass so concurrent relays skip them.
func (r *Repository) FetchUndispatched(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, aggregate_type, COALESCE(aggregate_id, ''),
			payload, correlation_id, causation_id, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.EventType, &rcd.AggregateType,
			&rcd.AggregateID, &rcd.Payload, &rcd.CorrelationID, &rcd.CausationID,
			&rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	return records, rows.Err()
}

// MarkDispatched stamps the rows the transport has acknowledged.
func (r *Repository) MarkDispatched(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET dispatched_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// DeleteDispatchedBefore drops dispatched rows older than cutoff. The
// retention window must cover the transport's redelivery horizon so an
// operator can still inspect what was sent.
func (r *Repository) DeleteDispatchedBefore(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE dispatched_at IS NOT NULL AND dispatched_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
