// Package logging writes every lifecycle event to the gateway log as one
// key=value line.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"reelstack.local/reel-gateway/internal/events"
)

type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event events.Envelope) error {
	line, err := Format(event)
	if err != nil {
		return err
	}
	s.logger.Print(line)
	return nil
}

// Format renders event as a key=value line. Envelope fields come first,
// then payload keys in sorted order.
func Format(event events.Envelope) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s event_id=%s", event.Type, event.EventID)
	if event.Type.Operator() {
		b.WriteString(" operator=true")
	}
	for _, kv := range [][2]string{
		{"session_id", event.SessionID},
		{"subject", event.Subject},
		{"login", event.Login},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], quote(kv[1]))
		}
	}

	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := render(event.Payload[k])
		if err != nil {
			return "", fmt.Errorf("format %s payload %s: %w", event.Type, k, err)
		}
		fmt.Fprintf(&b, " %s=%s", k, value)
	}
	return b.String(), nil
}

func render(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return quote(value), nil
	case fmt.Stringer:
		return quote(value.String()), nil
	case bool, int, int64, float64:
		return fmt.Sprint(value), nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
