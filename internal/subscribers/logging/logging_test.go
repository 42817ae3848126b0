package logging

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"reelstack.local/reel-gateway/internal/events"
	"reelstack.local/reel-gateway/internal/protocol"
)

func TestSubscriberHandle(t *testing.T) {
	var buf bytes.Buffer
	s := New(log.New(&buf, "", 0))

	event := events.Envelope{EventID: "evt_1", Type: events.SessionConnected, SessionID: "sess_1"}
	if err := s.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "logging" {
		t.Fatalf("unexpected name: %s", s.Name())
	}
	if got := strings.TrimSpace(buf.String()); got != "event=session.connected event_id=evt_1 session_id=sess_1" {
		t.Fatalf("unexpected log line %q", got)
	}
}

func TestFormatPayload(t *testing.T) {
	line, err := Format(events.Envelope{
		EventID: "evt_2",
		Type:    events.BatchFailed,
		Login:   "angler",
		Payload: map[string]any{
			"reason":     "chest closed",
			"failures":   2,
			"operations": []protocol.OperationType{protocol.OpFeed, protocol.OpClean},
			"rewound":    true,
		},
	})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := `event=batch.failed event_id=evt_2 login=angler failures=2 operations=["feed","clean"] reason="chest closed" rewound=true`
	if line != want {
		t.Fatalf("unexpected line\nwant %s\ngot  %s", want, line)
	}
}

func TestFormatMarksOperatorEvents(t *testing.T) {
	line, err := Format(events.Envelope{EventID: "evt_3", Type: events.BatchEscalated})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(line, " operator=true") {
		t.Fatalf("expected operator marker, got %q", line)
	}
}

func TestFormatUnencodablePayload(t *testing.T) {
	_, err := Format(events.Envelope{Type: events.BatchEmitted, Payload: map[string]any{"bad": make(chan int)}})
	if err == nil {
		t.Fatalf("expected error for unencodable payload")
	}
}
