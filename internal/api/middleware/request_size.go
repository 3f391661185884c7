package middleware

import (
	"net/http"
)

const (
	// JSONMaxBodySize bounds JSON request bodies; text items are limited to
	// 1MB of content plus encoding overhead.
	JSONMaxBodySize int64 = 2 << 20

	// multipartOverhead covers boundaries and part headers around an upload.
	multipartOverhead int64 = 1 << 20
)

// RequestSize wraps the body with http.MaxBytesReader. Reads past maxBytes
// fail and the handler answers 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// JSONRequestSize limits JSON endpoints.
func JSONRequestSize() func(http.Handler) http.Handler {
	return RequestSize(JSONMaxBodySize)
}

// UploadRequestSize limits multipart uploads to maxFileSize plus framing.
func UploadRequestSize(maxFileSize int64) func(http.Handler) http.Handler {
	return RequestSize(maxFileSize + multipartOverhead)
}
