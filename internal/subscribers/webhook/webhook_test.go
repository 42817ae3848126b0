package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reelstack.local/reel-gateway/internal/events"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEvent(t events.Type) events.Envelope {
	return events.Envelope{
		EventID:    "evt_1",
		Type:       t,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID:  "sess_1",
		Subject:    "lic_0a1b2c",
		Payload:    map[string]any{"batch_id": "batch_1"},
	}
}

func TestHandleSuccessfulPost(t *testing.T) {
	var (
		gotMethod      string
		gotPath        string
		gotContentType string
		gotEventHeader string
		gotEventID     string
		gotUserAgent   string
		gotBody        []byte
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotEventHeader = r.Header.Get("X-Reel-Event")
		gotEventID = r.Header.Get("X-Reel-Event-Id")
		gotUserAgent = r.Header.Get("User-Agent")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		gotBody = body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	event := newTestEvent(events.BatchEmitted)

	subscriber := New("webhook-test", server.URL+"/events", testLogger())
	if err := subscriber.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Fatalf("unexpected method: %s", gotMethod)
	}
	if gotPath != "/events" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content-type: %s", gotContentType)
	}
	if gotEventHeader != string(events.BatchEmitted) {
		t.Fatalf("unexpected event header: %s", gotEventHeader)
	}
	if gotEventID != "evt_1" || gotUserAgent != userAgent {
		t.Fatalf("unexpected delivery headers id=%q ua=%q", gotEventID, gotUserAgent)
	}

	var got Delivery
	if err := json.Unmarshal(gotBody, &got); err != nil {
		t.Fatalf("decode body %s: %v", gotBody, err)
	}
	if got.Event != events.BatchEmitted || got.Operator {
		t.Fatalf("unexpected event fields: %+v", got)
	}
	if got.Session == nil || got.Session.ID != "sess_1" || got.Session.Subject != "lic_0a1b2c" {
		t.Fatalf("unexpected session ref: %+v", got.Session)
	}
	if got.Data["batch_id"] != "batch_1" || !got.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected data: %+v", got)
	}
}

func TestDeliveryOmitsSessionBeforeAuthentication(t *testing.T) {
	event := events.Envelope{EventID: "evt_2", Type: events.AuthRejected, Payload: map[string]any{"reason": "invalid_token"}}
	raw, err := json.Marshal(NewDelivery(event))
	if err != nil {
		t.Fatalf("marshal delivery: %v", err)
	}
	if bytes.Contains(raw, []byte(`"session"`)) {
		t.Fatalf("expected no session object, got %s", raw)
	}
	if !bytes.Contains(raw, []byte(`"operator":true`)) {
		t.Fatalf("expected operator flag for auth rejection, got %s", raw)
	}
}

func TestHandleNon2xxReturnsErrorWithBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream failed"))
	}))
	defer server.Close()

	subscriber := New("webhook-test", server.URL, testLogger())
	err := subscriber.Handle(context.Background(), newTestEvent(events.BatchFailed))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "upstream failed") {
		t.Fatalf("expected status code and body in error, got %v", err)
	}
}

func TestHandleEventFilter(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subscriber := New("", server.URL, nil, WithEventFilter(events.Type.Operator))
	if subscriber.Name() != "webhook" {
		t.Fatalf("expected default name, got %s", subscriber.Name())
	}
	if err := subscriber.Handle(context.Background(), newTestEvent(events.BatchEmitted)); err != nil {
		t.Fatalf("filtered event: %v", err)
	}
	if err := subscriber.Handle(context.Background(), newTestEvent(events.BatchEscalated)); err != nil {
		t.Fatalf("operator event: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestWithHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	subscriber := New("webhook", "http://example.invalid", testLogger(), WithHTTPClient(client))
	if subscriber.httpClient != client {
		t.Fatalf("expected custom client")
	}
}
