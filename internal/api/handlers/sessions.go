package handlers

import (
	"net/http"
	"time"

	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/realtime"
)

// SessionDirectory is the read side of the live session registry.
type SessionDirectory interface {
	AllGroupedByPrincipal() []realtime.PrincipalSessions
	GroupOf(principalID string) (realtime.PrincipalSessions, bool)
	SessionsOf(principalID string) []*realtime.Session
}

type SessionsHandler struct {
	sessions SessionDirectory
	env      string
}

func NewSessionsHandler(sessions SessionDirectory, env string) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, env: env}
}

type connectionView struct {
	SocketID    string    `json:"socketId"`
	UserAgent   string    `json:"userAgent"`
	IP          string    `json:"ip"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type activeUserView struct {
	ID               string           `json:"id"`
	Username         string           `json:"username"`
	IsAdmin          bool             `json:"is_admin"`
	TotalConnections int              `json:"totalConnections"`
	Browsers         map[string]int   `json:"browsers"`
	Connections      []connectionView `json:"connections"`
}

func toActiveUserView(g realtime.PrincipalSessions) activeUserView {
	view := activeUserView{
		ID:               g.PrincipalID,
		Username:         g.Username,
		IsAdmin:          g.IsAdmin,
		TotalConnections: len(g.Sessions),
		Browsers:         g.Browsers,
		Connections:      make([]connectionView, 0, len(g.Sessions)),
	}
	for _, s := range g.Sessions {
		view.Connections = append(view.Connections, connectionView{
			SocketID:    s.ID,
			UserAgent:   s.UserAgent,
			IP:          s.RemoteAddr,
			ConnectedAt: s.ConnectedAt,
		})
	}
	return view
}

// ActiveUsers lists principals with live connections. Admins see everyone;
// other callers see only their own entry.
func (h *SessionsHandler) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, "invalid or missing api key", nil, h.env)
		return
	}

	var groups []realtime.PrincipalSessions
	if principal.IsAdmin {
		groups = h.sessions.AllGroupedByPrincipal()
	} else if g, ok := h.sessions.GroupOf(principal.ID); ok {
		groups = []realtime.PrincipalSessions{g}
	}

	out := make([]activeUserView, 0, len(groups))
	for _, g := range groups {
		out = append(out, toActiveUserView(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

type userConnectionView struct {
	ID          string    `json:"id"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"userAgent"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// UserConnections lists the caller's own live connections.
func (h *SessionsHandler) UserConnections(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, "invalid or missing api key", nil, h.env)
		return
	}

	sessions := h.sessions.SessionsOf(principal.ID)
	out := make([]userConnectionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, userConnectionView{
			ID:          s.ID,
			IP:          s.RemoteAddr,
			UserAgent:   s.UserAgent,
			ConnectedAt: s.ConnectedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}
