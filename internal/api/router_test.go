package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/config"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/domain/users"
	"github.com/clipdeck/server/internal/files"
	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/clipdeck/server/internal/realtime"
	"github.com/clipdeck/server/internal/storage/memory"
)

const (
	testAdminKey = "admin-key-0123456789"
	testUserKey  = "clipboard-key-0123456789"
)

type routerFixture struct {
	handler  http.Handler
	store    *memory.Store
	recorder *audit.Recorder
}

func newRouterFixture(t *testing.T, mutate func(*config.Config)) routerFixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.RateLimit.MaxRequests = 2
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	store := memory.New()
	userSvc := users.NewService(store, audit.NewLogger(logger), bcrypt.MinCost, logger)
	require.NoError(t, userSvc.Bootstrap(context.Background(), testAdminKey, testUserKey))

	uploads, err := files.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	registry := realtime.NewRegistry()
	clipSvc := clipboard.NewService(store, uploads, realtime.NewRouter(registry, logger), clipboard.Config{MaxFileSize: cfg.Uploads.MaxFileSize}, logger)

	windows := ratelimit.NewMemoryStore()
	recorder := audit.NewRecorder(store, 16, time.Second, logger)
	recorder.Start()
	t.Cleanup(func() { _ = recorder.Close() })

	handler, err := NewRouter(Deps{
		Config:        cfg,
		Logger:        logger,
		Version:       "0.1.0",
		GitCommit:     "abc123",
		Authenticator: auth.NewAuthenticator(userSvc, nil),
		Users:         userSvc,
		Clipboard:     clipSvc,
		MaxFileSize:   cfg.Uploads.MaxFileSize,
		Sessions:      registry,
		Governor:      ratelimit.NewGovernor(windows, ratelimit.Config{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window, BlockDuration: cfg.RateLimit.BlockDuration}, logger),
		Windows:       windows,
		Recorder:      recorder,
		AccessLog:     store,
	})
	require.NoError(t, err)
	return routerFixture{handler: handler, store: store, recorder: recorder}
}

func (f routerFixture) do(method, target, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = f.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/version", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"0.1.0"`)

	w = f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = f.do(http.MethodGet, "/robots.txt", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/no-such-page", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/healthz", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_Authentication(t *testing.T) {
	f := newRouterFixture(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		key        string
		wantStatus int
	}{
		{"missing key", http.MethodGet, "/api/clipboard", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/api/clipboard", "not-a-real-key-123", http.StatusUnauthorized},
		{"user lists clipboard", http.MethodGet, "/api/clipboard", testUserKey, http.StatusOK},
		{"user cannot list users", http.MethodGet, "/api/users", testUserKey, http.StatusForbidden},
		{"admin lists users", http.MethodGet, "/api/users", testAdminKey, http.StatusOK},
		{"user cannot read access log", http.MethodGet, "/api/logs/access", testUserKey, http.StatusForbidden},
		{"admin reads access log", http.MethodGet, "/api/logs/access", testAdminKey, http.StatusOK},
		{"admin reads rate limits", http.MethodGet, "/api/logs/rate-limits", testAdminKey, http.StatusOK},
		{"user connections", http.MethodGet, "/api/user-connections", testUserKey, http.StatusOK},
		{"active users", http.MethodGet, "/api/active-users", testUserKey, http.StatusOK},
		{"me", http.MethodGet, "/api/users/me", testUserKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.key, "")
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_LoginAndClipboardFlow(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodPost, "/api/users/auth", "", `{"apiKey":"`+testUserKey+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var login map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&login))
	assert.Equal(t, true, login["success"])
	assert.Equal(t, "clipboard", login["username"])
	assert.Equal(t, false, login["admin"])

	w = f.do(http.MethodPost, "/api/clipboard/text", testUserKey, `{"content":"shared note"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item clipboard.Item
	require.NoError(t, json.NewDecoder(w.Body).Decode(&item))

	w = f.do(http.MethodGet, "/api/clipboard?search=shared", testUserKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = f.do(http.MethodDelete, "/api/clipboard/"+item.ID, testAdminKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/clipboard/"+item.ID, testUserKey, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RateLimitAndAccessLog(t *testing.T) {
	f := newRouterFixture(t, nil)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := f.do(http.MethodPost, "/api/clipboard/text", testUserKey, `{"content":"note"}`)
		statuses = append(statuses, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, statuses)

	// Unlisted endpoints are never limited.
	w := f.do(http.MethodGet, "/api/clipboard", testUserKey, "")
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, f.recorder.Close())
	entries, total, err := f.store.ListAccessLogs(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total, "blocked requests are still recorded")
	for _, e := range entries {
		assert.Equal(t, "/api/clipboard/text", e.Path)
		assert.Equal(t, http.MethodPost, e.Method)
		assert.Equal(t, "192.0.2.1", e.ClientID)
	}
}

func TestRouter_CORS(t *testing.T) {
	f := newRouterFixture(t, func(cfg *config.Config) {
		cfg.Realtime.AllowedOrigins = []string{"https://clip.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/clipboard", nil)
	req.Header.Set("Origin", "https://clip.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://clip.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouter_InvalidPathRule(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimit.Paths = []string{"not a rule at all"}
	_, err := NewRouter(Deps{Config: cfg, Logger: zerolog.Nop()})
	assert.Error(t, err)
}
