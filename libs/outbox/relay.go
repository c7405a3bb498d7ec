package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/kafkax"
	otelx "github.com/jinto-josan/web-apps-sub001/libs/otel"
)

// Relay polls the outbox for undispatched rows and hands them to Kafka.
// Rows are fetched in creation order and keyed by aggregate ID, so the
// Hash balancer keeps causally related events of one aggregate on one
// partition in record order. A row is marked dispatched only after the
// writer acknowledges; a failed pass leaves the batch pending and the next
// tick retries it, so the transport may see duplicates. The inbox ledger
// on the consuming side resolves those.
type Relay struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retention time.Duration
}

type RelayConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long dispatched rows are kept before the sweep
	// deletes them. Zero disables the sweep.
	Retention time.Duration
}

func NewRelay(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if len(r.brokers) == 0 {
		r.logger.Warn("outbox relay disabled (no kafka brokers configured)")
		return
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  r.brokers,
		Balancer: &kafka.Hash{},
	})
	defer writer.Close()

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.dispatchBatch(ctx, writer); err != nil {
				r.logger.Error("outbox dispatch failed", "err", err)
			}
			if r.retention > 0 && time.Since(lastSweep) >= time.Hour {
				lastSweep = time.Now()
				if err := r.sweep(ctx); err != nil {
					r.logger.Error("outbox retention sweep failed", "err", err)
				}
			}
		}
	}
}

func (r *Relay) dispatchBatch(ctx context.Context, writer *kafka.Writer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.repo.FetchUndispatched(ctx, tx, r.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	for _, rcd := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		msg := messageFor(rcd)
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		if err := writer.WriteMessages(ctx, msg); err != nil {
			return err
		}
	}

	ids := make([]int64, 0, len(records))
	for _, rcd := range records {
		ids = append(ids, rcd.ID)
	}
	if err := r.repo.MarkDispatched(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// messageFor builds the transport message for one outbox row: topic is the
// event type, key is the aggregate ID (empty when subject extraction
// failed), metadata travels as headers rather than inside the body.
func messageFor(rcd Record) kafka.Message {
	headers := []kafka.Header{
		{Key: kafkax.HeaderMessageID, Value: []byte(rcd.EventID)},
		{Key: kafkax.HeaderEventType, Value: []byte(rcd.EventType)},
	}
	if rcd.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: correlation.CorrelationKey, Value: []byte(rcd.CorrelationID)})
	}
	if rcd.CausationID != "" {
		headers = append(headers, kafka.Header{Key: correlation.CausationKey, Value: []byte(rcd.CausationID)})
	}
	return kafka.Message{
		Topic:   rcd.EventType,
		Key:     []byte(rcd.AggregateID),
		Value:   rcd.Payload,
		Headers: headers,
	}
}

func (r *Relay) sweep(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := r.repo.DeleteDispatchedBefore(ctx, tx, time.Now().Add(-r.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("outbox retention sweep", "deleted", n)
	}
	return tx.Commit(ctx)
}
