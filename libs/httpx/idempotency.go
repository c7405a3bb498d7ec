package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// IdempotencyHeader is the client-supplied key identifying a logical
// request. A retry with the same key within the retention window gets the
// stored response instead of re-executing side effects.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyOutcome classifies a claim attempt on an idempotency key.
type IdempotencyOutcome int

const (
	// IdemFresh: first sight of the key, execute the request.
	IdemFresh IdempotencyOutcome = iota
	// IdemReplay: the original request completed; return its response.
	IdemReplay
	// IdemInFlight: the original request has not finished; reject the
	// duplicate rather than double-execute.
	IdemInFlight
)

// IdempotencyRecord is the stored outcome of a completed request.
type IdempotencyRecord struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore is the durable key ledger behind WithIdempotency.
// Claim must be atomic: two concurrent requests carrying the same key see
// exactly one IdemFresh.
type IdempotencyStore interface {
	Claim(ctx context.Context, scope, key string) (IdempotencyRecord, IdempotencyOutcome, error)
	Finalize(ctx context.Context, scope, key string, rec IdempotencyRecord) error
	// Release frees a claim whose request never produced a storable
	// response, so the client can retry with the same key.
	Release(ctx context.Context, scope, key string) error
}

// ScopeFunc derives the key namespace from the request, typically the
// authenticated account, so keys from different tenants cannot collide.
type ScopeFunc func(*http.Request) string

// WithIdempotency enforces the Idempotency-Key contract on mutating
// requests. Responses with 5xx status are not finalized: the failure may
// be transient and the client is expected to retry with the same key.
func WithIdempotency(store IdempotencyStore, scope ScopeFunc, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch && r.Method != http.MethodDelete) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			s := scope(r)
			rec, outcome, err := store.Claim(ctx, s, key)
			if err != nil {
				logger.Error("idempotency claim failed", "err", err)
				http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
				return
			}
			switch outcome {
			case IdemReplay:
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.Body)
				return
			case IdemInFlight:
				http.Error(w, "request with this idempotency key is still in flight", http.StatusConflict)
				return
			}

			rw := &bufferingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			if rw.status >= 500 || rw.status == 0 {
				if err := store.Release(ctx, s, key); err != nil {
					logger.Error("idempotency release failed", "err", err)
				}
				return
			}
			err = store.Finalize(ctx, s, key, IdempotencyRecord{
				StatusCode:  rw.status,
				ContentType: rw.Header().Get("Content-Type"),
				Body:        rw.buf.Bytes(),
			})
			if err != nil {
				logger.Error("idempotency finalize failed", "err", err)
			}
		})
	}
}
