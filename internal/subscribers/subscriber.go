package subscribers

import (
	"context"

	"reelstack.local/reel-gateway/internal/events"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, events.Envelope) error
}
