package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/audit"
	"github.com/clipdeck/server/internal/clientip"
	"github.com/clipdeck/server/internal/ratelimit"
	"golang.org/x/time/rate"
)

const rateLimitMessage = "too many requests, please try again later"

// RateLimit evaluates requests on the allow-list against the governor. A
// blocked client gets 429 with a Retry-After header and the same value in
// the body.
func RateLimit(gov *ratelimit.Governor, paths *audit.Matcher, resolver clientip.Resolver, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gov == nil || !paths.Match(r) {
				next.ServeHTTP(w, r)
				return
			}

			d := gov.Evaluate(r.Context(), resolver.FromRequest(r), now())
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
				problem.Write(w, r, http.StatusTooManyRequests, rateLimitMessage, nil, "", problem.WithRetryAfter(d.RetryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandshakeThrottle applies a per-IP token bucket to websocket handshakes.
// perMinute <= 0 disables it.
type HandshakeThrottle struct {
	resolver    clientip.Resolver
	perMinute   int
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	ttl         time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewHandshakeThrottle(perMinute int, resolver clientip.Resolver) *HandshakeThrottle {
	t := &HandshakeThrottle{
		resolver:    resolver,
		perMinute:   perMinute,
		limiters:    make(map[string]*limiterEntry),
		ttl:         15 * time.Minute,
		stopCleanup: make(chan struct{}),
	}
	if perMinute > 0 {
		go t.cleanupLoop()
	}
	return t
}

func (t *HandshakeThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !t.limiter(t.resolver.FromRequest(r)).Allow() {
			retry := int((time.Minute / time.Duration(t.perMinute)).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			problem.Write(w, r, http.StatusTooManyRequests, rateLimitMessage, nil, "", problem.WithRetryAfter(retry))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *HandshakeThrottle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.limiters[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	interval := time.Minute / time.Duration(t.perMinute)
	limiter := rate.NewLimiter(rate.Every(interval), t.perMinute)
	t.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (t *HandshakeThrottle) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup(time.Now())
		case <-t.stopCleanup:
			return
		}
	}
}

// cleanup drops limiters idle for longer than the TTL.
func (t *HandshakeThrottle) cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.limiters {
		if now.Sub(entry.lastSeen) > t.ttl {
			delete(t.limiters, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (t *HandshakeThrottle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCleanup) })
}
