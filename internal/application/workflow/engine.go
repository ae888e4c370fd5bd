package workflow

import (
	"context"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// Engine is the sole writer of a request's current step
type Engine interface {
	// Create opens a request at its definition's start step
	Create(ctx context.Context, actor entity.Actor, in NewRequest) (*entity.Request, error)

	// Transition moves a request along the named edge of its current step
	Transition(ctx context.Context, cmd TransitionCommand) (*entity.Request, error)

	// CanTransition lists the edges Transition would currently accept
	CanTransition(ctx context.Context, requestID int64, actor entity.Actor) ([]AvailableTransition, error)
}

// NewRequest describes a request to open. Zero DefinitionID selects the
// tenant default; zero RequesterID means the actor.
type NewRequest struct {
	TenantID     int64  `json:"tenant_id"`
	DefinitionID int64  `json:"definition_id"`
	RequesterID  int64  `json:"requester_id"`
	Title        string `json:"title" validate:"required,max=200"`
	Priority     string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// TransitionCommand asks the engine to move a request.
// ExpectedStepKey is the step the caller last saw; AssigneeID reassigns
// the request as part of the same move.
type TransitionCommand struct {
	RequestID       int64
	Actor           entity.Actor
	TransitionKey   string
	ExpectedStepKey string
	AssigneeID      *int64
}

// AvailableTransition is an edge the actor may take right now
type AvailableTransition struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	ToStepKey  string `json:"to_step_key"`
	ToStepName string `json:"to_step_name"`
}
