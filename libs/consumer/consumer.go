package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/libs/kafkax"
)

// Consumer reads Kafka messages and feeds them to the Processor. Offset
// commits are cumulative per partition, so the loop never advances past a
// message that has not been processed: a failing message is retried in
// place with backoff until it succeeds, and only then is its offset
// committed. Skipping would let the next commit cover the failed offset
// and the broker would never hand it out again.
type Consumer struct {
	reader     *kafka.Reader
	processor  *Processor
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	// Topics to subscribe; typically registry.Topics().
	Topics []string
}

func New(logger *slog.Logger, processor *Processor, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:     reader,
		processor:  processor,
		logger:     logger,
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := c.processWithRetry(ctx, msg); err != nil {
			// Only context cancellation gets here.
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err)
		}
	}
}

// processWithRetry applies one message, retrying in place until it
// succeeds or the failure is permanent. The reader is serial per
// partition, so parking here also keeps a failed event's same-aggregate
// successors from being applied ahead of it. Permanent routing errors
// are the exception: redelivery cannot fix an unknown event type or a
// missing handler, and parking the partition on one would stall every
// aggregate behind it; the ledger row keeps the failure inspectable.
func (c *Consumer) processWithRetry(ctx context.Context, msg kafka.Message) error {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	meta := kafkax.ExtractMessageMeta(msg)
	backoff := c.minBackoff

	for {
		spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		err := c.processor.Process(spanCtx, Message{
			ID:            meta.MessageID,
			EventType:     meta.EventType,
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Traceparent:   kafkax.HeaderValue(msg.Headers, "traceparent"),
			Tracestate:    kafkax.HeaderValue(msg.Headers, "tracestate"),
			Body:          msg.Value,
		})
		if err == nil {
			span.End()
			return nil
		}
		span.RecordError(err)
		span.End()

		if permanentFailure(err) {
			c.logger.Error("message dropped after permanent failure",
				"message_id", meta.MessageID, "event_type", meta.EventType, "err", err)
			return nil
		}

		c.logger.Error("message processing failed, retrying in place",
			"message_id", meta.MessageID, "event_type", meta.EventType,
			"backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// permanentFailure reports whether no amount of redelivery can make the
// message processable.
func permanentFailure(err error) bool {
	return errors.Is(err, eventbus.ErrUnknownEventType) || errors.Is(err, eventbus.ErrNoHandler)
}
