package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/geoip"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += int64(n)
	return n, err
}

// Logger emits one structured access log line per request. When a GeoIP
// resolver is supplied the line carries the client country; lookups that fail
// are skipped silently.
func Logger(l zerolog.Logger, geo geoip.CountryResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			ip := clientIP(r)
			evt := l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Int64("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_ip", ip)
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				evt = evt.Str("request_id", rid)
			}
			if geo != nil {
				if country, err := geo.CountryCode(ip); err == nil && country != "" {
					evt = evt.Str("country", country)
				}
			}
			evt.Msg("http request")
		})
	}
}
