// Package protocol defines the closed set of messages exchanged with the
// automation client over the /ws connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"reelstack.local/reel-gateway/internal/rotation"
)

var ErrMalformed = errors.New("malformed message")

// Event is an inbound client message. The set of implementations is closed.
type Event interface {
	EventName() string
	isEvent()
}

type Auth struct{ Token string }

// Progress reports a successful repetition of the primary task.
type Progress struct{ ResourceID rotation.ResourceID }

// Timeout reports that no progress was observed on a resource within the
// client's expected window.
type Timeout struct{ ResourceID rotation.ResourceID }

type SyncConfig struct{ Values map[string]any }

type Pause struct{}

type Stop struct{}

type BatchCompleted struct {
	BatchID    string
	Operations []OperationType
}

type BatchFailed struct {
	BatchID   string
	Operation OperationType
	Reason    string
}

type Ping struct{}

// Unknown carries the name of an event this server does not understand.
type Unknown struct{ Name string }

func (Auth) EventName() string           { return "auth" }
func (Progress) EventName() string       { return "progress" }
func (Timeout) EventName() string        { return "timeout" }
func (SyncConfig) EventName() string     { return "sync_config" }
func (Pause) EventName() string          { return "pause" }
func (Stop) EventName() string           { return "stop" }
func (BatchCompleted) EventName() string { return "batch_completed" }
func (BatchFailed) EventName() string    { return "batch_failed" }
func (Ping) EventName() string           { return "ping" }
func (u Unknown) EventName() string      { return u.Name }

func (Auth) isEvent()           {}
func (Progress) isEvent()       {}
func (Timeout) isEvent()        {}
func (SyncConfig) isEvent()     {}
func (Pause) isEvent()          {}
func (Stop) isEvent()           {}
func (BatchCompleted) isEvent() {}
func (BatchFailed) isEvent()    {}
func (Ping) isEvent()           {}
func (Unknown) isEvent()        {}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Token string          `json:"token"`
}

// DecodeEvent parses one inbound frame. Unrecognized event names decode to
// Unknown; structurally invalid frames return ErrMalformed.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	name := strings.TrimSpace(env.Event)
	if name == "" {
		if strings.TrimSpace(env.Token) != "" {
			return Auth{Token: strings.TrimSpace(env.Token)}, nil
		}
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	switch name {
	case "auth":
		token := strings.TrimSpace(env.Token)
		if token == "" {
			data, err := decodeData(env.Data)
			if err != nil {
				return nil, err
			}
			token = strings.TrimSpace(cast.ToString(data["token"]))
		}
		if token == "" {
			return nil, fmt.Errorf("%w: auth without token", ErrMalformed)
		}
		return Auth{Token: token}, nil
	case "progress", "fish_caught":
		id, err := resourceID(env.Data, "current_rod")
		if err != nil {
			return nil, err
		}
		return Progress{ResourceID: id}, nil
	case "timeout":
		id, err := resourceID(env.Data, "rod")
		if err != nil {
			return nil, err
		}
		return Timeout{ResourceID: id}, nil
	case "sync_config":
		data, err := decodeData(env.Data)
		if err != nil {
			return nil, err
		}
		return SyncConfig{Values: data}, nil
	case "pause":
		return Pause{}, nil
	case "stop":
		return Stop{}, nil
	case "batch_completed":
		var body struct {
			BatchID    string          `json:"batch_id"`
			Operations []OperationType `json:"operations"`
		}
		if err := decodeInto(env.Data, &body); err != nil {
			return nil, err
		}
		return BatchCompleted{BatchID: body.BatchID, Operations: body.Operations}, nil
	case "feeding_done":
		return BatchCompleted{Operations: []OperationType{OpFeed}}, nil
	case "cleaning_done":
		return BatchCompleted{Operations: []OperationType{OpClean}}, nil
	case "batch_failed":
		var body struct {
			BatchID   string        `json:"batch_id"`
			Operation OperationType `json:"operation"`
			Reason    string        `json:"reason"`
		}
		if err := decodeInto(env.Data, &body); err != nil {
			return nil, err
		}
		return BatchFailed{BatchID: body.BatchID, Operation: body.Operation, Reason: body.Reason}, nil
	case "ping":
		return Ping{}, nil
	default:
		return Unknown{Name: name}, nil
	}
}

func decodeData(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if err := decodeInto(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func decodeInto(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return nil
}

// resourceID reads data.resource_id, falling back to a legacy key. A missing
// id decodes as 0, which no resource set contains.
func resourceID(raw json.RawMessage, legacyKey string) (rotation.ResourceID, error) {
	data, err := decodeData(raw)
	if err != nil {
		return 0, err
	}
	value, ok := data["resource_id"]
	if !ok {
		value, ok = data[legacyKey]
	}
	if !ok || value == nil {
		return 0, nil
	}
	n, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("%w: resource_id: %v", ErrMalformed, err)
	}
	return rotation.ResourceID(n), nil
}
