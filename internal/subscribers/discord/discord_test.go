package discord

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"reelstack.local/reel-gateway/internal/events"
)

type fakeSender struct {
	mu       sync.Mutex
	channel  string
	messages []string
}

func (f *fakeSender) SendMessage(channelID string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channelID
	f.messages = append(f.messages, content)
	return nil
}

func TestHandleForwardsOperatorEventsOnly(t *testing.T) {
	sender := &fakeSender{}
	s := New(sender, " chan-1 ")

	if err := s.Handle(context.Background(), events.New(events.BatchEmitted, nil)); err != nil {
		t.Fatalf("handle emitted: %v", err)
	}
	escalated := events.New(events.BatchEscalated, map[string]any{"operation": "clean", "failures": 3})
	escalated.Login = "angler"
	escalated.Subject = "KEY-1234..."
	if err := s.Handle(context.Background(), escalated); err != nil {
		t.Fatalf("handle escalated: %v", err)
	}

	if len(sender.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.messages))
	}
	if sender.channel != "chan-1" {
		t.Fatalf("unexpected channel %q", sender.channel)
	}
	msg := sender.messages[0]
	for _, want := range []string{"batch.escalated", "login=angler", "license=KEY-1234...", "failures: 3", "operation: clean"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in message %q", want, msg)
		}
	}
	if s.Name() != "discord" {
		t.Fatalf("unexpected name %s", s.Name())
	}
}

func TestHandleCanceledContext(t *testing.T) {
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(sender, "chan").Handle(ctx, events.New(events.AuthRejected, nil)); err == nil {
		t.Fatalf("expected context error")
	}
	if len(sender.messages) != 0 {
		t.Fatalf("message sent despite canceled context")
	}
}

func TestFormatTruncates(t *testing.T) {
	event := events.New(events.AuthRejected, map[string]any{"reason": strings.Repeat("x", 3000)})
	if got := Format(event); len(got) != maxMessageLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated message of %d chars, got %d", maxMessageLen, len(got))
	}
}

func TestFormatTruncatesOnRuneBoundary(t *testing.T) {
	event := events.New(events.AuthRejected, map[string]any{"reason": strings.Repeat("é漁", 1500)})
	got := Format(event)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a multi-byte character")
	}
	if n := utf8.RuneCountInString(got); n != maxMessageLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected %d characters ending in ..., got %d", maxMessageLen, n)
	}
	if short := truncate("héllo", 10); short != "héllo" {
		t.Fatalf("short message changed: %q", short)
	}
}

func TestNormalizeBotToken(t *testing.T) {
	if got := normalizeBotToken(" abc "); got != "Bot abc" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := normalizeBotToken("Bot abc"); got != "Bot abc" {
		t.Fatalf("unexpected token %q", got)
	}
}
