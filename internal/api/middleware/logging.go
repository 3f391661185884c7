package middleware

import (
	"net/http"
	"time"

	"github.com/clipdeck/server/internal/clientip"
	"github.com/rs/zerolog"
)

// RequestLogging writes one line per request with the request logger placed
// in the context by CorrelationID.
func RequestLogging(resolver clientip.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			status := rw.Status()
			logger := zerolog.Ctx(r.Context())
			event := logger.Info()
			if status >= 500 {
				event = logger.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", resolver.FromRequest(r)).
				Int("status", status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
