package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"

	// maxRequestIDLen caps inbound correlation ids so a hostile header cannot
	// bloat every log line.
	maxRequestIDLen = 64
)

// RequestID attaches a correlation id to the request context and echoes it in
// the X-Request-ID response header. An inbound X-Request-ID is honored so ids
// survive proxies; otherwise a fresh uuid is minted.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if len(rid) > maxRequestIDLen {
			rid = rid[:maxRequestIDLen]
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
