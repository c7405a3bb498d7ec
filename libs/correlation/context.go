// Package correlation propagates correlation and causation IDs across the
// publish -> transport -> consume boundary. The correlation ID names the
// whole request chain; the causation ID names the one message whose
// handling produced the current work.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Canonical metadata keys used on Kafka headers and outbox columns.
const (
	CorrelationKey = "correlation_id"
	CausationKey   = "causation_id"
)

// HTTPHeader is the inbound/outbound HTTP header for the correlation ID.
const HTTPHeader = "X-Correlation-Id"

type ctxKey int

const (
	ctxKeyCorrelation ctxKey = iota
	ctxKeyCausation
)

func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCorrelation, id)
}

func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCorrelation).(string)
	return v
}

func WithCausationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyCausation, id)
}

func CausationID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCausation).(string)
	return v
}

// Ensure returns a context that carries a correlation ID, minting one when
// the chain starts here.
func Ensure(ctx context.Context) context.Context {
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.NewString())
}
