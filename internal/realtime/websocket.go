package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/clientip"
	"github.com/clipdeck/server/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteWait    = 10 * time.Second
	maxInboundMessage   = 4096
)

// Authenticator verifies the credential presented on the handshake.
type Authenticator interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin hosts; empty accepts any origin.
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteWait      time.Duration
}

// Handler upgrades authenticated requests to websocket sessions and keeps
// them registered until the connection ends.
type Handler struct {
	registry *Registry
	auth     Authenticator
	resolver clientip.Resolver
	upgrader websocket.Upgrader
	cfg      HandlerConfig
	clients  sync.Map
	logger   zerolog.Logger
}

func NewHandler(registry *Registry, authn Authenticator, resolver clientip.Resolver, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	h := &Handler{
		registry: registry,
		auth:     authn,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.Verify(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		metrics.SessionHandshakes.WithLabelValues("unauthorized").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
		return
	}

	remoteAddr := h.resolver.FromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.SessionHandshakes.WithLabelValues("failed").Inc()
		h.logger.Warn().Err(err).Str("remote_addr", remoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, h.cfg.SendBuffer)
	id := ulid.Make().String()
	sess, err := h.registry.Register(id, SessionInfo{
		PrincipalID: principal.ID,
		Username:    principal.Username,
		IsAdmin:     principal.IsAdmin,
		RemoteAddr:  remoteAddr,
		UserAgent:   r.UserAgent(),
	}, c)
	if err != nil {
		metrics.SessionHandshakes.WithLabelValues("failed").Inc()
		h.logger.Error().Err(err).Msg("session registration failed")
		c.close()
		return
	}
	h.clients.Store(id, c)
	metrics.SessionHandshakes.WithLabelValues("accepted").Inc()

	h.logger.Info().
		Str("session_id", sess.ID).
		Str("principal_id", sess.PrincipalID).
		Str("remote_addr", sess.RemoteAddr).
		Str("browser", sess.Browser()).
		Msg("session connected")

	go c.writePump(h.cfg.PingInterval, h.cfg.WriteWait)
	go func() {
		c.readPump(h.cfg.PingInterval * 2)
		h.registry.Unregister(id)
		h.clients.Delete(id)
		c.close()
		h.logger.Info().
			Str("session_id", id).
			Str("principal_id", principal.ID).
			Msg("session disconnected")
	}()
}

// Close sends a close frame to every live connection and tears them down.
func (h *Handler) Close() {
	h.clients.Range(func(key, value any) bool {
		c := value.(*client)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.close()
		return true
	})
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

var _ Sink = (*client)(nil)

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *client) Deliver(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards inbound frames; it exists to process control frames and
// to notice when the peer goes away.
func (c *client) readPump(pongWait time.Duration) {
	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
