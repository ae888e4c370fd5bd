package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys
const (
	KeyFromStepKey   = "from_step_key"
	KeyToStepKey     = "to_step_key"
	KeyTransitionKey = "transition_key"
	KeyAssigneeID    = "assignee_id"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RequestID     int64                  `json:"request_id"`
	TenantID      int64                  `json:"tenant_id"`
	ActorID       int64                  `json:"actor_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// StepReached is the notification contract for a committed transition
type StepReached struct {
	RequestID     int64
	TenantID      int64
	FromStepKey   string
	ToStepKey     string
	TransitionKey string
	ActorID       int64
	Timestamp     time.Time
}

// NewEvent creates a new domain event with generated ids
func NewEvent(eventType Type, requestID, tenantID, actorID int64, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, requestID, tenantID, actorID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, requestID, tenantID, actorID int64, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		RequestID:     requestID,
		TenantID:      tenantID,
		ActorID:       actorID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// NewStepReached creates the event emitted after a transition commits
func NewStepReached(sr StepReached) *Event {
	evt := NewEvent(TypeStepReached, sr.RequestID, sr.TenantID, sr.ActorID, map[string]interface{}{
		KeyFromStepKey:   sr.FromStepKey,
		KeyToStepKey:     sr.ToStepKey,
		KeyTransitionKey: sr.TransitionKey,
	})
	if !sr.Timestamp.IsZero() {
		evt.Timestamp = sr.Timestamp
	}
	return evt
}

// StepReached decodes the payload of a step_reached event
func (e *Event) StepReached() (StepReached, bool) {
	if e.Type != TypeStepReached {
		return StepReached{}, false
	}
	return StepReached{
		RequestID:     e.RequestID,
		TenantID:      e.TenantID,
		FromStepKey:   e.GetPayloadString(KeyFromStepKey),
		ToStepKey:     e.GetPayloadString(KeyToStepKey),
		TransitionKey: e.GetPayloadString(KeyTransitionKey),
		ActorID:       e.ActorID,
		Timestamp:     e.Timestamp,
	}, true
}

// WithPayload returns a new Event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload.
// JSON round trips turn numbers into float64, so both are accepted.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
