// Package webhook posts lifecycle events to operator-supplied HTTP
// endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"reelstack.local/reel-gateway/internal/events"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 1 << 20
	userAgent          = "reel-gateway-webhook/1"
)

// Delivery is the JSON body posted for every event.
type Delivery struct {
	EventID    string         `json:"event_id"`
	Event      events.Type    `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Operator   bool           `json:"operator"`
	Session    *SessionRef    `json:"session,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// SessionRef identifies the session an event belongs to. It is omitted for
// events raised before a session exists, such as rejected authentication.
type SessionRef struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject,omitempty"`
	Login   string `json:"login,omitempty"`
}

// NewDelivery shapes event for webhook consumers.
func NewDelivery(event events.Envelope) Delivery {
	d := Delivery{
		EventID:    event.EventID,
		Event:      event.Type,
		OccurredAt: event.OccurredAt.UTC(),
		Operator:   event.Type.Operator(),
		Data:       event.Payload,
	}
	if event.SessionID != "" || event.Subject != "" {
		d.Session = &SessionRef{ID: event.SessionID, Subject: event.Subject, Login: event.Login}
	}
	return d
}

type Option func(*Subscriber)

type Subscriber struct {
	name       string
	URL        string
	httpClient *http.Client
	logger     *log.Logger
	filter     func(events.Type) bool
}

func New(name string, url string, logger *log.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sub := &Subscriber{
		name:       strings.TrimSpace(name),
		URL:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	if sub.name == "" {
		sub.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	return sub
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithEventFilter(filter func(events.Type) bool) Option {
	return func(s *Subscriber) {
		s.filter = filter
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) Handle(ctx context.Context, event events.Envelope) error {
	if s.filter != nil && !s.filter(event.Type) {
		return nil
	}

	body, err := json.Marshal(NewDelivery(event))
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Reel-Event", string(event.Type))
	req.Header.Set("X-Reel-Event-Id", event.EventID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	limited := io.LimitReader(resp.Body, maxErrorBodyBytes+1)
	errorBody, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("webhook status=%d read body: %w", resp.StatusCode, err)
	}
	truncated := ""
	if len(errorBody) > maxErrorBodyBytes {
		errorBody = errorBody[:maxErrorBodyBytes]
		truncated = " (truncated)"
	}
	return fmt.Errorf("webhook status=%d body=%q%s", resp.StatusCode, string(errorBody), truncated)
}
