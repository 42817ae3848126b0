// Package events defines the lifecycle notifications fanned out to
// subscribers.
package events

import (
	"time"

	"reelstack.local/reel-gateway/internal/ids"
)

type Type string

const (
	SessionConnected Type = "session.connected"
	SessionClosed    Type = "session.closed"
	SessionReset     Type = "session.reset"
	ConfigSynced     Type = "config.synced"
	BatchEmitted     Type = "batch.emitted"
	BatchCompleted   Type = "batch.completed"
	BatchFailed      Type = "batch.failed"
	BatchEscalated   Type = "batch.escalated"
	AuthRejected     Type = "auth.rejected"
)

// Envelope is one lifecycle notification. Subject is derived from the
// license key and never carries the key itself.
type Envelope struct {
	EventID    string         `json:"event_id"`
	Type       Type           `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	SessionID  string         `json:"session_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Login      string         `json:"login,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func New(t Type, payload map[string]any) Envelope {
	return Envelope{
		EventID:    ids.Prefixed("evt"),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Operator reports whether t should reach human operators.
func (t Type) Operator() bool {
	return t == BatchEscalated || t == AuthRejected
}
