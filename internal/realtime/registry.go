// Package realtime tracks live websocket sessions per principal and routes
// events to the sessions of exactly one principal.
package realtime

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/clipdeck/server/internal/metrics"
)

var (
	// ErrAuth is returned when a session is registered without a principal.
	ErrAuth = errors.New("session has no authenticated principal")

	ErrDuplicateSession = errors.New("session id already registered")
)

// Sink receives messages for one session. Deliver must not block; it
// reports whether the message was accepted.
type Sink interface {
	Deliver(msg Message) bool
}

// SessionInfo describes the connection being registered.
type SessionInfo struct {
	PrincipalID string
	Username    string
	IsAdmin     bool
	RemoteAddr  string
	UserAgent   string
}

// Session is one live connection. It is immutable once registered.
type Session struct {
	ID          string
	PrincipalID string
	Username    string
	IsAdmin     bool
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	sink Sink
}

// Browser classifies the session's user agent.
func (s *Session) Browser() string {
	return ClassifyBrowser(s.UserAgent)
}

func (s *Session) deliver(msg Message) bool {
	if s.sink == nil {
		return false
	}
	return s.sink.Deliver(msg)
}

// PrincipalSessions groups the sessions of one principal with a tally of
// browser families.
type PrincipalSessions struct {
	PrincipalID string
	Username    string
	IsAdmin     bool
	Sessions    []*Session
	Browsers    map[string]int
}

// Registry is the in-memory index of live sessions, safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byPrincipal map[string]map[string]*Session
	owners      map[string]string
	now         func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byPrincipal: make(map[string]map[string]*Session),
		owners:      make(map[string]string),
		now:         time.Now,
	}
}

// Register adds a session under its principal.
func (r *Registry) Register(id string, info SessionInfo, sink Sink) (*Session, error) {
	if info.PrincipalID == "" {
		return nil, ErrAuth
	}

	sess := &Session{
		ID:          id,
		PrincipalID: info.PrincipalID,
		Username:    info.Username,
		IsAdmin:     info.IsAdmin,
		RemoteAddr:  info.RemoteAddr,
		UserAgent:   info.UserAgent,
		ConnectedAt: r.now().UTC(),
		sink:        sink,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[id]; exists {
		return nil, ErrDuplicateSession
	}
	set, ok := r.byPrincipal[info.PrincipalID]
	if !ok {
		set = make(map[string]*Session)
		r.byPrincipal[info.PrincipalID] = set
	}
	set[id] = sess
	r.owners[id] = info.PrincipalID
	metrics.SessionsActive.Inc()
	return sess, nil
}

// Unregister removes a session. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principalID, ok := r.owners[id]
	if !ok {
		return nil, false
	}
	delete(r.owners, id)

	set := r.byPrincipal[principalID]
	sess := set[id]
	delete(set, id)
	if len(set) == 0 {
		delete(r.byPrincipal, principalID)
	}
	metrics.SessionsActive.Dec()
	return sess, true
}

// SessionsOf returns a snapshot of the principal's sessions, oldest first.
func (r *Registry) SessionsOf(principalID string) []*Session {
	r.mu.RLock()
	set := r.byPrincipal[principalID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sortSessions(out)
	return out
}

// AllGroupedByPrincipal returns every principal with live sessions.
func (r *Registry) AllGroupedByPrincipal() []PrincipalSessions {
	r.mu.RLock()
	groups := make([]PrincipalSessions, 0, len(r.byPrincipal))
	for principalID, set := range r.byPrincipal {
		group := PrincipalSessions{
			PrincipalID: principalID,
			Sessions:    make([]*Session, 0, len(set)),
		}
		for _, s := range set {
			group.Sessions = append(group.Sessions, s)
		}
		groups = append(groups, group)
	}
	r.mu.RUnlock()

	for i := range groups {
		finishGroup(&groups[i])
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].PrincipalID < groups[j].PrincipalID })
	return groups
}

// GroupOf returns the grouping for one principal; ok is false when the
// principal has no live sessions.
func (r *Registry) GroupOf(principalID string) (PrincipalSessions, bool) {
	sessions := r.SessionsOf(principalID)
	if len(sessions) == 0 {
		return PrincipalSessions{}, false
	}
	group := PrincipalSessions{PrincipalID: principalID, Sessions: sessions}
	finishGroup(&group)
	return group, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func finishGroup(g *PrincipalSessions) {
	sortSessions(g.Sessions)
	g.Browsers = make(map[string]int)
	for _, s := range g.Sessions {
		g.Browsers[s.Browser()]++
		if g.Username == "" {
			g.Username = s.Username
		}
		g.IsAdmin = g.IsAdmin || s.IsAdmin
	}
}

func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
}
