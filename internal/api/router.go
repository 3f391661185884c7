package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clipdeck/server/internal/api/handlers"
	"github.com/clipdeck/server/internal/api/middleware"
	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/clientip"
	"github.com/clipdeck/server/internal/config"
	"github.com/clipdeck/server/internal/metrics"
	"github.com/clipdeck/server/internal/ratelimit"
	"github.com/clipdeck/server/web"
)

// Deps carries everything the HTTP surface needs. Optional fields may be nil:
// a nil Governor disables rate limiting, a nil Recorder disables the access
// log, a nil Handshakes applies no handshake throttle.
type Deps struct {
	Config    config.Config
	Logger    zerolog.Logger
	Version   string
	GitCommit string
	BuildDate string

	Authenticator handlers.Authenticator
	Users         handlers.UserService
	Clipboard     handlers.ClipboardService
	MaxFileSize   int64
	Sessions      handlers.SessionDirectory
	Realtime      http.Handler
	Handshakes    *middleware.HandshakeThrottle

	Governor  *ratelimit.Governor
	Windows   handlers.WindowLister
	Recorder  *audit.Recorder
	AccessLog audit.Query
	Health    *handlers.HealthChecker

	// Now overrides the clock used for rate limiting and access log stamps.
	Now func() time.Time
}

// NewRouter builds the route table and wraps it in the middleware chain.
// Outermost first: tracing, request id, request log, security headers, CORS,
// access log, rate limit, route metrics.
func NewRouter(deps Deps) (http.Handler, error) {
	cfg := deps.Config
	env := cfg.Environment
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	rateLimitPaths, err := audit.NewMatcher(cfg.RateLimit.Paths)
	if err != nil {
		return nil, fmt.Errorf("rate limit paths: %w", err)
	}
	accessLogPaths, err := audit.NewMatcher(cfg.AccessLog.Paths)
	if err != nil {
		return nil, fmt.Errorf("access log paths: %w", err)
	}
	resolver := clientip.NewResolver(cfg.Server.TrustedProxies)

	usersHandler := handlers.NewUsersHandler(deps.Users, deps.Authenticator, resolver, env)
	clipboardHandler := handlers.NewClipboardHandler(deps.Clipboard, env)
	sessionsHandler := handlers.NewSessionsHandler(deps.Sessions, env)
	logsHandler := handlers.NewLogsHandler(deps.AccessLog, deps.Windows, env)

	authed := middleware.Authenticate(deps.Authenticator, env)
	admin := func(h http.Handler) http.Handler { return authed(middleware.RequireAdmin(env)(h)) }
	jsonBody := middleware.JSONRequestSize()
	upload := middleware.UploadRequestSize(deps.MaxFileSize)

	health := deps.Health
	if health == nil {
		health = handlers.NewHealthChecker(deps.Version, deps.GitCommit)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", web.IndexHandler())
	mux.Handle("GET /robots.txt", web.RobotsTxtHandler())
	mux.Handle("GET /healthz", handlers.Healthz())
	mux.Handle("GET /readyz", health.Health())
	mux.Handle("GET /version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/users/auth", jsonBody(http.HandlerFunc(usersHandler.Login)))
	mux.Handle("GET /api/users/me", authed(http.HandlerFunc(usersHandler.Me)))
	mux.Handle("GET /api/users", admin(http.HandlerFunc(usersHandler.List)))
	mux.Handle("POST /api/users", admin(jsonBody(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("DELETE /api/users/{id}", admin(http.HandlerFunc(usersHandler.Delete)))

	mux.Handle("GET /api/clipboard", authed(http.HandlerFunc(clipboardHandler.List)))
	mux.Handle("POST /api/clipboard/text", authed(jsonBody(http.HandlerFunc(clipboardHandler.CreateText))))
	mux.Handle("POST /api/clipboard/file", authed(upload(http.HandlerFunc(clipboardHandler.CreateFile))))
	mux.Handle("GET /api/clipboard/file/{id}", http.HandlerFunc(clipboardHandler.ServeFile))
	mux.Handle("GET /api/clipboard/download/{id}", authed(http.HandlerFunc(clipboardHandler.Download)))
	mux.Handle("DELETE /api/clipboard/{id}", authed(http.HandlerFunc(clipboardHandler.Delete)))

	mux.Handle("GET /api/active-users", authed(http.HandlerFunc(sessionsHandler.ActiveUsers)))
	mux.Handle("GET /api/user-connections", authed(http.HandlerFunc(sessionsHandler.UserConnections)))

	mux.Handle("GET /api/logs/access", admin(http.HandlerFunc(logsHandler.Access)))
	mux.Handle("GET /api/logs/rate-limits", admin(http.HandlerFunc(logsHandler.RateLimits)))

	if deps.Realtime != nil {
		ws := deps.Realtime
		if deps.Handshakes != nil {
			ws = deps.Handshakes.Middleware(ws)
		}
		mux.Handle("GET /ws", ws)
	}

	var handler http.Handler = metrics.HTTPMiddleware(mux)
	handler = middleware.RateLimit(deps.Governor, rateLimitPaths, resolver, now)(handler)
	handler = middleware.AccessLog(deps.Recorder, accessLogPaths, resolver, now)(handler)
	handler = middleware.CORS(cfg.Realtime.AllowedOrigins, deps.Logger)(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.RequestLogging(resolver)(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	handler = middleware.Tracing(handler)
	return handler, nil
}
