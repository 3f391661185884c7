// Package problem writes JSON error bodies of the form {"error": "..."}.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/json"

// Body is the error payload returned by every endpoint.
type Body struct {
	Error      string `json:"error"`
	Success    *bool  `json:"success,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type Option func(*Body)

// WithRetryAfter sets the retry hint in whole seconds.
func WithRetryAfter(seconds int) Option {
	return func(b *Body) {
		b.RetryAfter = seconds
	}
}

// WithSuccessFlag adds "success": false, which login responses carry.
func WithSuccessFlag() Option {
	return func(b *Body) {
		f := false
		b.Success = &f
	}
}

// Write logs err with the request logger and writes message. In development
// and test environments a 5xx body carries err's text instead of the generic
// status text.
func Write(w http.ResponseWriter, r *http.Request, status int, message string, err error, env string, opts ...Option) {
	body := Body{Error: message}
	for _, opt := range opts {
		opt(&body)
	}

	if status >= 500 && err != nil {
		if env == "development" || env == "test" {
			body.Error = err.Error()
		} else if body.Error == "" {
			body.Error = http.StatusText(status)
		}
	}
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.Err(err).
			Int("status", status).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(message)
	}

	WriteBody(w, status, body)
}

func WriteBody(w http.ResponseWriter, status int, body Body) {
	payload, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
