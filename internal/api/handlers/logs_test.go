package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/clipdeck/server/internal/storage/memory"
)

type failingWindows struct{}

func (failingWindows) List(context.Context, int) ([]ratelimit.ClientWindow, error) {
	return nil, errors.New("redis unreachable")
}

func TestLogsHandler_Access(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAccessLog(ctx, audit.Entry{
			ClientID:  "203.0.113.7",
			Path:      "/api/users/auth",
			Method:    http.MethodPost,
			UserAgent: "curl/8.0",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	h := NewLogsHandler(store, ratelimit.NewMemoryStore(), "test")

	w := httptest.NewRecorder()
	h.Access(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/api/logs/access?page=2&size=2", nil), adminPrincipal))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool          `json:"success"`
		Data    []audit.Entry `json:"data"`
		Total   int           `json:"total"`
		Page    int           `json:"page"`
		Size    int           `json:"size"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 5, body.Total)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 2, body.Size)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "203.0.113.7", body.Data[0].ClientID)
	assert.True(t, body.Data[0].Timestamp.After(body.Data[1].Timestamp), "newest first")
}

func TestLogsHandler_AccessDefaults(t *testing.T) {
	h := NewLogsHandler(memory.New(), ratelimit.NewMemoryStore(), "test")

	w := httptest.NewRecorder()
	h.Access(w, httptest.NewRequest(http.MethodGet, "/api/logs/access", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[],"total":0,"page":1,"size":50}`, w.Body.String())
}

func TestLogsHandler_RateLimits(t *testing.T) {
	windows := ratelimit.NewMemoryStore()
	gov := ratelimit.NewGovernor(windows, ratelimit.Config{
		MaxRequests:   2,
		Window:        time.Minute,
		BlockDuration: 10 * time.Minute,
	}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		gov.Evaluate(ctx, "198.51.100.20", now.Add(time.Duration(i)*time.Second))
	}
	gov.Evaluate(ctx, "198.51.100.21", now)

	h := NewLogsHandler(memory.New(), windows, "test")
	h.now = func() time.Time { return now.Add(5 * time.Second) }

	w := httptest.NewRecorder()
	h.RateLimits(w, httptest.NewRequest(http.MethodGet, "/api/logs/rate-limits", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool            `json:"success"`
		Data    []rateLimitView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 2)

	byIP := map[string]rateLimitView{}
	for _, row := range body.Data {
		byIP[row.IPAddress] = row
	}
	blocked := byIP["198.51.100.20"]
	assert.True(t, blocked.Blocked)
	require.NotNil(t, blocked.BlockedUntil)
	assert.False(t, byIP["198.51.100.21"].Blocked)
	assert.Equal(t, 1, byIP["198.51.100.21"].RequestCount)
}

func TestLogsHandler_RateLimitsStoreError(t *testing.T) {
	h := NewLogsHandler(memory.New(), failingWindows{}, "production")

	w := httptest.NewRecorder()
	h.RateLimits(w, httptest.NewRequest(http.MethodGet, "/api/logs/rate-limits", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "redis unreachable")
}
