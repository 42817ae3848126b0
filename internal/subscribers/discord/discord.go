// Package discord posts operator-relevant lifecycle events to a Discord
// channel.
package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"reelstack.local/reel-gateway/internal/events"
)

const maxMessageLen = 2000

// Sender delivers a message to a channel.
type Sender interface {
	SendMessage(channelID string, content string) error
}

type Subscriber struct {
	sender    Sender
	channelID string
}

func New(sender Sender, channelID string) *Subscriber {
	return &Subscriber{sender: sender, channelID: strings.TrimSpace(channelID)}
}

func (s *Subscriber) Name() string {
	return "discord"
}

// Handle forwards escalations and rejected authentications. Other events
// are ignored.
func (s *Subscriber) Handle(ctx context.Context, event events.Envelope) error {
	if !event.Type.Operator() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sender.SendMessage(s.channelID, Format(event))
}

// Format renders event as a short plain-text message.
func Format(event events.Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", event.Type)
	if event.Login != "" {
		fmt.Fprintf(&b, " login=%s", event.Login)
	}
	if event.Subject != "" {
		fmt.Fprintf(&b, " license=%s", event.Subject)
	}
	if event.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", event.SessionID)
	}

	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, event.Payload[k])
	}

	return truncate(b.String(), maxMessageLen)
}

// truncate caps s at limit characters, counting runes as Discord does.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

type botSender struct {
	session *discordgo.Session
}

// NewBotSender creates a Sender backed by a Discord bot token.
func NewBotSender(token string) (Sender, error) {
	session, err := discordgo.New(normalizeBotToken(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &botSender{session: session}, nil
}

func (s *botSender) SendMessage(channelID string, content string) error {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if content == "" {
		return fmt.Errorf("message content is required")
	}
	_, err := s.session.ChannelMessageSend(channelID, content)
	return err
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
