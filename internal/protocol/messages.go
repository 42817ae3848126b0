package protocol

import "encoding/json"

// Message is an outbound server message. The set of implementations is
// closed; each one serializes its own discriminator.
type Message interface {
	json.Marshaler
	isMessage()
}

type ExecuteBatch struct {
	BatchID    string      `json:"batch_id"`
	Operations []Operation `json:"operations"`
}

type Connected struct {
	Login      string `json:"login,omitempty"`
	EventCount int    `json:"event_count"`
}

type Pong struct{}

type ConfigSynced struct {
	Config map[string]any `json:"config"`
}

type SessionReset struct {
	Reason string `json:"reason"`
}

type Error struct {
	Error string `json:"error"`
}

func (ExecuteBatch) isMessage() {}
func (Connected) isMessage()    {}
func (Pong) isMessage()         {}
func (ConfigSynced) isMessage() {}
func (SessionReset) isMessage() {}
func (Error) isMessage()        {}

func (m ExecuteBatch) MarshalJSON() ([]byte, error) {
	type body ExecuteBatch
	if m.Operations == nil {
		m.Operations = []Operation{}
	}
	return json.Marshal(struct {
		Cmd string `json:"cmd"`
		body
	}{Cmd: "execute_batch", body: body(m)})
}

func (m Connected) MarshalJSON() ([]byte, error) {
	type body Connected
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{Type: "connected", body: body(m)})
}

func (Pong) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"pong"}`), nil
}

func (m ConfigSynced) MarshalJSON() ([]byte, error) {
	type body ConfigSynced
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{Type: "config_synced", body: body(m)})
}

func (m SessionReset) MarshalJSON() ([]byte, error) {
	type body SessionReset
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{Type: "session_reset", body: body(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type body Error
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{Type: "error", body: body(m)})
}
