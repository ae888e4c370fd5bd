// Package eventbus republishes committed domain events on a watermill
// topic so automation outside the request path can consume them.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/dispatcher"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/event"
)

// Metadata keys set on every message
const (
	MetadataEventType = "event_type"
	MetadataRequestID = "request_id"
	MetadataTenantID  = "tenant_id"
)

// DefaultTopic carries every request lifecycle event
const DefaultTopic = "service_requests.events"

// Config configures the in-process bus
type Config struct {
	Topic      string
	BufferSize int64
}

// Bus publishes events on a watermill pub/sub
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *zap.Logger
}

// New creates a bus backed by a watermill gochannel
func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, NewLoggerAdapter(logger))

	return NewWithPubSub(pubSub, pubSub, cfg.Topic, logger)
}

// NewWithPubSub creates a bus over any watermill publisher and subscriber
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, topic string, logger *zap.Logger) *Bus {
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		logger:     logger,
	}
}

// Publish implements port.EventPublisher
func (b *Bus) Publish(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, string(evt.Type))
	msg.Metadata.Set(MetadataRequestID, strconv.FormatInt(evt.RequestID, 10))
	msg.Metadata.Set(MetadataTenantID, strconv.FormatInt(evt.TenantID, 10))

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}
	return nil
}

// Bridge forwards every event the dispatcher sees onto the bus
func (b *Bus) Bridge(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "watermill-bridge", func(ctx context.Context, evt *event.Event) error {
		return b.Publish(ctx, evt)
	})
}

// Handler consumes an event taken off the bus
type Handler func(ctx context.Context, evt *event.Event) error

// Subscribe delivers bus events to handler until ctx ends. Messages that
// fail to decode or handle are nacked.
func (b *Bus) Subscribe(ctx context.Context, handler Handler) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.topic, err)
	}

	go func() {
		for msg := range messages {
			var evt event.Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("Dropping undecodable event", zap.String("message_uuid", msg.UUID), zap.Error(err))
				msg.Nack()
				continue
			}

			if err := handler(msg.Context(), &evt); err != nil {
				b.logger.Warn("Event handler failed",
					zap.String("event_id", evt.ID),
					zap.String("event_type", string(evt.Type)),
					zap.Error(err))
				msg.Nack()
				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// Close shuts down the publisher and subscriber
func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}

var _ port.EventPublisher = (*Bus)(nil)
