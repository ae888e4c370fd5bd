package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/practice-workflow/internal/domain/event"
)

// Dispatcher delivers committed request events to in-process subscribers
type Dispatcher interface {
	// Subscribe registers an anonymous handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler under a name. Registering the same
	// name and type again replaces the earlier handler in place.
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a named handler
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs every matching handler in registration order.
	// A failing handler does not stop the others; all failures are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Handlers describes the handlers registered for an event type
	Handlers(eventType event.Type) []HandlerInfo

	// Close stops further dispatching
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// requestStripes bounds the per-request delivery locks
const requestStripes = 64

// eventDispatcher keeps an immutable subscription list that writers replace
// wholesale, so Dispatch never holds a lock while handlers run.
type eventDispatcher struct {
	subs   atomic.Pointer[[]HandlerInfo]
	writeM sync.Mutex
	seq    int

	// events of one request reach handlers one at a time
	stripes [requestStripes]sync.Mutex

	logger Logger
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{}
	empty := []HandlerInfo{}
	d.subs.Store(&empty)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.register(eventType, "", handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.register(eventType, name, handler)
}

func (d *eventDispatcher) register(eventType event.Type, name string, handler Handler) {
	d.writeM.Lock()
	defer d.writeM.Unlock()

	current := *d.subs.Load()
	if name == "" {
		name = fmt.Sprintf("%s#%d", eventType, d.seq)
	}

	next := make([]HandlerInfo, 0, len(current)+1)
	replaced := false
	for _, s := range current {
		if s.EventType == eventType && s.Name == name {
			s.Handler = handler
			replaced = true
		}
		next = append(next, s)
	}
	if !replaced {
		next = append(next, HandlerInfo{Name: name, EventType: eventType, Handler: handler})
		d.seq++
	}
	d.subs.Store(&next)

	if d.logger != nil {
		d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name, "replaced", replaced)
	}
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.writeM.Lock()
	defer d.writeM.Unlock()

	current := *d.subs.Load()
	next := make([]HandlerInfo, 0, len(current))
	for _, s := range current {
		if s.EventType == eventType && s.Name == name {
			continue
		}
		next = append(next, s)
	}
	d.subs.Store(&next)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	lock := &d.stripes[uint64(evt.RequestID)%requestStripes]
	lock.Lock()
	defer lock.Unlock()

	var errs []error
	for _, s := range *d.subs.Load() {
		if s.EventType != evt.Type && s.EventType != AnyType {
			continue
		}
		if err := safeRun(ctx, s.Handler, evt); err != nil {
			if d.logger != nil {
				d.logger.Error("Event handler failed",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"request_id", evt.RequestID,
					"handler_name", s.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("handler %s failed: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) Handlers(eventType event.Type) []HandlerInfo {
	var out []HandlerInfo
	for _, s := range *d.subs.Load() {
		if s.EventType == eventType {
			out = append(out, HandlerInfo{Name: s.Name, EventType: s.EventType})
		}
	}
	return out
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	// wait for in-flight deliveries
	for i := range d.stripes {
		d.stripes[i].Lock()
		d.stripes[i].Unlock()
	}
	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}
	return nil
}

// safeRun calls h, turning a panic into an error
func safeRun(ctx context.Context, h Handler, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
