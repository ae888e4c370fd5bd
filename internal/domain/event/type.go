package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestCreated    Type = "request.created"
	TypeStepReached       Type = "request.step_reached"
	TypeRequestAssigned   Type = "request.assigned"
	TypeRequestUnassigned Type = "request.unassigned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeStepReached,
		TypeRequestAssigned,
		TypeRequestUnassigned:
		return true
	default:
		return false
	}
}

// All returns every defined event type
func All() []Type {
	return []Type{TypeRequestCreated, TypeStepReached, TypeRequestAssigned, TypeRequestUnassigned}
}
