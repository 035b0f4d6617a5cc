package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/civiops/adyen-connect/pkg/logger"
)

// RequestID attaches a trace id to every request. Callers may supply
// their own via X-Trace-ID; the id is echoed back on the response and
// added to the context logger so every log line of this request carries
// it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "traceID", traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
