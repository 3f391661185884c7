package middleware

import (
	"net/http"
	"time"

	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/clientip"
)

// AccessLog hands an entry for every allow-listed request to the recorder
// before the request proceeds. Recording never blocks or fails the request.
func AccessLog(recorder *audit.Recorder, paths *audit.Matcher, resolver clientip.Resolver, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder != nil && paths.Match(r) {
				recorder.Record(audit.Entry{
					ClientID:  resolver.FromRequest(r),
					Path:      r.URL.Path,
					Method:    r.Method,
					UserAgent: r.UserAgent(),
					Timestamp: now().UTC(),
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}
