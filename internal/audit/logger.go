package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// Action is an administrative audit event.
type Action struct {
	Timestamp    time.Time
	Action       string
	Actor        string
	ResourceType string
	ResourceID   string
	IPAddress    string
	Status       string
	Details      map[string]string
}

// Logger writes administrative actions to a dedicated zerolog stream.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(a Action) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	evt := l.logger.Info()
	if a.Status == "failure" {
		evt = l.logger.Warn()
	}
	evt = evt.
		Time("at", a.Timestamp).
		Str("action", a.Action).
		Str("actor", a.Actor).
		Str("ip_address", a.IPAddress).
		Str("status", a.Status)
	if a.ResourceType != "" {
		evt = evt.Str("resource_type", a.ResourceType).Str("resource_id", a.ResourceID)
	}
	if len(a.Details) > 0 {
		dict := zerolog.Dict()
		for k, v := range a.Details {
			dict = dict.Str(k, v)
		}
		evt = evt.Dict("details", dict)
	}
	evt.Msg("audit")
}

func (l *Logger) LogSuccess(action, actor, resourceType, resourceID, ipAddress string, details map[string]string) {
	l.Log(Action{
		Action:       action,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ipAddress,
		Status:       "success",
		Details:      details,
	})
}

func (l *Logger) LogFailure(action, actor, ipAddress string, details map[string]string) {
	l.Log(Action{
		Action:    action,
		Actor:     actor,
		IPAddress: ipAddress,
		Status:    "failure",
		Details:   details,
	})
}
