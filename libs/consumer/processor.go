package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/libs/inbox"
	otelx "github.com/jinto-josan/web-apps-sub001/libs/otel"
)

// ErrInFlight means another consumer currently holds a fresh claim on the
// message. The delivery is neither applied nor failed; the transport's
// redelivery will find the claim released or stale.
var ErrInFlight = errors.New("message claim held by another consumer")

// Message is one transport delivery stripped of broker specifics. ID is
// the dedup key: redeliveries of the same logical message repeat it.
type Message struct {
	ID            string
	EventType     string
	CorrelationID string
	CausationID   string
	Traceparent   string
	Tracestate    string
	Body          []byte
}

// Ledger is the inbox dedup ledger as the processor needs it.
type Ledger interface {
	Claim(ctx context.Context, messageID string) (inbox.Claim, error)
	MarkDone(ctx context.Context, messageID string) error
	MarkFailed(ctx context.Context, messageID string, lastError string) error
}

// Processor applies one delivered message with exactly-once business
// effect: claim in the ledger, decode, route, run the handler inside a
// unit of work, commit, mark done. Any failure rolls back, records the
// error on the ledger row, and surfaces to the caller so the transport's
// own redelivery policy governs the retry.
type Processor struct {
	ledger         Ledger
	begin          BeginFunc
	registry       *eventbus.Registry
	logger         *slog.Logger
	handlerTimeout time.Duration
}

type ProcessorConfig struct {
	// HandlerTimeout bounds a single handler invocation. On expiry the
	// unit of work rolls back and the message is marked FAILED, leaving
	// it eligible for reclaim rather than lost.
	HandlerTimeout time.Duration
}

func NewProcessor(ledger Ledger, begin BeginFunc, registry *eventbus.Registry, logger *slog.Logger, cfg ProcessorConfig) *Processor {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	return &Processor{
		ledger:         ledger,
		begin:          begin,
		registry:       registry,
		logger:         logger,
		handlerTimeout: cfg.HandlerTimeout,
	}
}

func (p *Processor) Process(ctx context.Context, msg Message) error {
	claim, err := p.ledger.Claim(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("inbox claim %s: %w", msg.ID, err)
	}
	switch claim {
	case inbox.ClaimDuplicate:
		p.logger.Info("duplicate message ignored", "message_id", msg.ID, "event_type", msg.EventType)
		return nil
	case inbox.ClaimBusy:
		return fmt.Errorf("%w: %s", ErrInFlight, msg.ID)
	}

	ctx = correlation.WithCorrelationID(ctx, msg.CorrelationID)
	ctx = correlation.Ensure(ctx)
	// Whatever the handler emits was caused by this message.
	ctx = correlation.WithCausationID(ctx, msg.ID)
	ctx = otelx.ContextWithTraceContext(ctx, msg.Traceparent, msg.Tracestate)

	if err := p.apply(ctx, msg); err != nil {
		if ferr := p.ledger.MarkFailed(ctx, msg.ID, err.Error()); ferr != nil {
			p.logger.Error("inbox mark failed", "message_id", msg.ID, "err", ferr)
		}
		return err
	}

	if err := p.ledger.MarkDone(ctx, msg.ID); err != nil {
		// The business effect is committed; the row stays IN_PROGRESS
		// and will be reclaimed, which is why handlers are idempotent.
		return fmt.Errorf("inbox mark done %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Processor) apply(ctx context.Context, msg Message) error {
	uow, err := p.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback(ctx)
		}
	}()
	ctx = uow.Context(ctx)

	event, err := p.registry.Decode(msg.EventType, msg.Body)
	if err != nil {
		return err
	}
	handler, err := p.registry.Handler(msg.EventType)
	if err != nil {
		return err
	}

	handlerCtx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()
	if err := handler(handlerCtx, event, correlation.CorrelationID(ctx)); err != nil {
		return fmt.Errorf("handle %s: %w", msg.EventType, err)
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	committed = true
	return nil
}
