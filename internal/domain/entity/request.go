package entity

import "time"

// Request is a service request moving through a workflow definition.
// CurrentStepID is authoritative; StatusLabel mirrors the step key.
type Request struct {
	ID                 int64      `json:"id"`
	TenantID           int64      `json:"tenant_id"`
	DefinitionID       int64      `json:"definition_id"`
	RequesterID        int64      `json:"requester_id"`
	AssigneeID         *int64     `json:"assignee_id,omitempty"`
	CurrentStepID      int64      `json:"current_step_id"`
	StatusLabel        string     `json:"status_label"`
	Title              string     `json:"title"`
	Priority           string     `json:"priority"`
	InvoiceRaised      bool       `json:"invoice_raised"`
	InvoicePaid        bool       `json:"invoice_paid"`
	InvoiceAmountCents int64      `json:"invoice_amount_cents"`
	InternalNotes      string     `json:"internal_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Priority values
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// IsAssignedTo returns true if the request is held by the given user
func (r *Request) IsAssignedTo(userID int64) bool {
	return r.AssigneeID != nil && *r.AssigneeID == userID
}

// Clone returns a copy safe to mutate without affecting the receiver
func (r *Request) Clone() *Request {
	c := *r
	if r.AssigneeID != nil {
		id := *r.AssigneeID
		c.AssigneeID = &id
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// RequestTransition is one row of a request's audit trail
type RequestTransition struct {
	ID           int64     `json:"id"`
	RequestID    int64     `json:"request_id"`
	TransitionID *int64    `json:"transition_id,omitempty"`
	FromStepKey  string    `json:"from_step_key"`
	ToStepKey    string    `json:"to_step_key"`
	ActorID      int64     `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
}
