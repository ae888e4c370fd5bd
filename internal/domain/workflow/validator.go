package workflow

import "github.com/garyjia/practice-workflow/internal/domain/entity"

// Validator decides whether a transition is legal for an actor and request.
// It performs no I/O.
type Validator struct {
	preconditions Preconditions
}

// NewValidator creates a validator enforcing the given preconditions
func NewValidator(preconditions Preconditions) *Validator {
	return &Validator{preconditions: preconditions}
}

// Validate checks roles, then step consistency, then destination preconditions
func (v *Validator) Validate(g *Graph, t *entity.Transition, roles []string, req *entity.Request) error {
	if !t.Permits(roles) {
		return Reject(KindForbidden, "roles", "transition %q requires one of %v", t.Key, t.AllowedRoles)
	}

	current, ok := g.Step(req.CurrentStepID)
	if !ok || current.Key != t.FromStepKey {
		return Reject(KindStaleState, "current_step", "request %d is no longer at step %q", req.ID, t.FromStepKey)
	}

	dest, ok := g.StepByKey(t.ToStepKey)
	if !ok {
		return Reject(KindNotFound, "to_step", "step %q not found", t.ToStepKey)
	}

	return v.preconditions.Evaluate(dest, req)
}
