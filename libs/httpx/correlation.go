package httpx

import (
	"net/http"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
)

// WithCorrelation reads X-Correlation-Id from the request (minting one
// when absent), binds it into the context for outbox writes, and echoes it
// on the response so callers can stitch traces together.
func WithCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := correlation.WithCorrelationID(r.Context(), r.Header.Get(correlation.HTTPHeader))
		ctx = correlation.Ensure(ctx)
		w.Header().Set(correlation.HTTPHeader, correlation.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
