package bridgeapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const correlationIDKey ctxKey = iota

// CorrelationMiddleware propagates or assigns an X-Request-ID/
// X-Correlation-ID value for the lifetime of a request, so log lines
// and error responses can be tied back to a single call across the
// queue/pool/upstream hops.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = r.Header.Get("X-Correlation-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
