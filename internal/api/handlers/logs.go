package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/clipdeck/server/internal/api/pagination"
	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/ratelimit"
)

const (
	accessLogDefaultSize = 50
	accessLogMaxSize     = 200
	rateLimitListLimit   = 100
)

// WindowLister lists persisted rate-limit windows, most recently updated first.
type WindowLister interface {
	List(ctx context.Context, limit int) ([]ratelimit.ClientWindow, error)
}

// LogsHandler serves the admin views of the access log and rate-limit state.
type LogsHandler struct {
	access  audit.Query
	windows WindowLister
	now     func() time.Time
	env     string
}

func NewLogsHandler(access audit.Query, windows WindowLister, env string) *LogsHandler {
	return &LogsHandler{access: access, windows: windows, now: time.Now, env: env}
}

func (h *LogsHandler) Access(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r, accessLogDefaultSize, accessLogMaxSize)

	entries, total, err := h.access.ListAccessLogs(r.Context(), params.Size, params.Offset())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "failed to load access logs", err, h.env)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    entries,
		"total":   total,
		"page":    params.Page,
		"size":    params.Size,
	})
}

type rateLimitView struct {
	IPAddress       string     `json:"ip_address"`
	RequestCount    int        `json:"request_count"`
	LastRequestTime time.Time  `json:"last_request_time"`
	BlockedUntil    *time.Time `json:"blocked_until"`
	Blocked         bool       `json:"blocked"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RateLimits returns clients with a live count or a recorded block.
func (h *LogsHandler) RateLimits(w http.ResponseWriter, r *http.Request) {
	windows, err := h.windows.List(r.Context(), rateLimitListLimit)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "failed to load rate limit state", err, h.env)
		return
	}

	now := h.now()
	out := make([]rateLimitView, 0, len(windows))
	for _, win := range windows {
		out = append(out, rateLimitView{
			IPAddress:       win.ClientID,
			RequestCount:    win.Count,
			LastRequestTime: win.WindowStart,
			BlockedUntil:    win.BlockedUntil,
			Blocked:         win.Blocked(now),
			UpdatedAt:       win.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}
