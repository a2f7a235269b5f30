package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"cardkeyd/internal/infrastructure"
)

// TraceHeader carries the trace ID on requests and responses.
const TraceHeader = "X-Trace-Id"

// TraceID assigns each request a trace ID, reusing the caller's when
// supplied. The ID rides the context so every log line on the request path
// carries it.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := infrastructure.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
