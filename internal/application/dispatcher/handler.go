package dispatcher

import (
	"context"

	"github.com/garyjia/practice-workflow/internal/domain/event"
)

// Handler reacts to one committed event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo names a registered handler. Handlers() leaves Handler nil.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AnyType subscribes a handler to every event type
const AnyType event.Type = "*"
