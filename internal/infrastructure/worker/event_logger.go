package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/domain/event"
	"github.com/garyjia/practice-workflow/internal/infrastructure/eventbus"
)

// EventSource is the subscribe side of the event bus
type EventSource interface {
	Subscribe(ctx context.Context, handler eventbus.Handler) error
}

// EventLogger writes one structured line per lifecycle event taken off the bus
type EventLogger struct {
	source EventSource
	logger *zap.Logger
	cancel context.CancelFunc
}

func NewEventLogger(source EventSource, logger *zap.Logger) *EventLogger {
	return &EventLogger{source: source, logger: logger.Named("events")}
}

func (w *EventLogger) Name() string { return "event-logger" }

func (w *EventLogger) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	if err := w.source.Subscribe(subCtx, w.handle); err != nil {
		cancel()
		return err
	}
	w.cancel = cancel
	return nil
}

func (w *EventLogger) Stop() error {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	return nil
}

func (w *EventLogger) handle(_ context.Context, evt *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.Int64("request_id", evt.RequestID),
		zap.Int64("tenant_id", evt.TenantID),
		zap.Int64("actor_id", evt.ActorID),
	}
	if sr, ok := evt.StepReached(); ok {
		fields = append(fields,
			zap.String("from_step", sr.FromStepKey),
			zap.String("to_step", sr.ToStepKey),
			zap.String("transition", sr.TransitionKey))
	}
	w.logger.Info("Request event", fields...)
	return nil
}
