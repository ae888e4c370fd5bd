package workflow

import (
	"errors"
	"fmt"

	"github.com/garyjia/practice-workflow/pkg/utils"
)

// Kind names a category of rejection so callers can map it to a response
type Kind string

const (
	KindUnknownTransition         Kind = "unknown_transition"
	KindNoSuchTransition          Kind = "no_such_transition"
	KindForbidden                 Kind = "forbidden"
	KindStaleState                Kind = "stale_state"
	KindInvoicePrerequisiteNotMet Kind = "invoice_prerequisite_not_met"
	KindInvalidAssignee           Kind = "invalid_assignee"
	KindWipLimitExceeded          Kind = "wip_limit_exceeded"
	KindNotFound                  Kind = "not_found"
	KindInvalidDefinition         Kind = "invalid_definition"
	KindInvoiceState              Kind = "invoice_state"
	KindInvalidInput              Kind = "invalid_input"
)

var (
	// ErrUnknownTransition is returned when no edge with the key leaves the current step
	ErrUnknownTransition = errors.New("unknown transition")

	// ErrNoSuchTransition is returned when the current step has no outgoing edges at all
	ErrNoSuchTransition = fmt.Errorf("%w: step has no outgoing transitions", ErrUnknownTransition)

	// ErrForbidden is returned when the actor's roles do not permit the operation
	ErrForbidden = errors.New("forbidden")

	// ErrStaleState is returned when the request moved since the caller read it
	ErrStaleState = errors.New("stale state")

	// ErrInvoicePrerequisiteNotMet is returned when a destination step needs a raised invoice
	ErrInvoicePrerequisiteNotMet = errors.New("invoice prerequisite not met")

	// ErrInvalidAssignee is returned for a missing, inactive, foreign or unqualified assignee
	ErrInvalidAssignee = errors.New("invalid assignee")

	// ErrWipLimitExceeded is returned when an assignee is at capacity for a step
	ErrWipLimitExceeded = errors.New("wip limit exceeded")

	// ErrNotFound is returned when a request, definition, step or user is absent
	ErrNotFound = errors.New("not found")

	// ErrInvalidDefinition is returned when a definition graph breaks a structural rule
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInvoiceState is returned when invoice flags would read paid but not raised
	ErrInvoiceState = errors.New("invalid invoice state")

	// ErrInvalidInput is returned for malformed caller input
	ErrInvalidInput = errors.New("invalid input")
)

var sentinels = map[Kind]error{
	KindUnknownTransition:         ErrUnknownTransition,
	KindNoSuchTransition:          ErrNoSuchTransition,
	KindForbidden:                 ErrForbidden,
	KindStaleState:                ErrStaleState,
	KindInvoicePrerequisiteNotMet: ErrInvoicePrerequisiteNotMet,
	KindInvalidAssignee:           ErrInvalidAssignee,
	KindWipLimitExceeded:          ErrWipLimitExceeded,
	KindNotFound:                  ErrNotFound,
	KindInvalidDefinition:         ErrInvalidDefinition,
	KindInvoiceState:              ErrInvoiceState,
	KindInvalidInput:              ErrInvalidInput,
}

var messages = map[Kind]string{
	KindUnknownTransition:         "That action is not available for this request.",
	KindNoSuchTransition:          "This request is closed and cannot be moved.",
	KindForbidden:                 "You don't have permission to do this.",
	KindStaleState:                "Someone else already moved this request. Refresh and try again.",
	KindInvoicePrerequisiteNotMet: "This request's invoice must be raised before it can move on.",
	KindInvalidAssignee:           "That person cannot be assigned to this request.",
	KindWipLimitExceeded:          "That person already holds the maximum number of requests in this step.",
	KindNotFound:                  "The requested item could not be found.",
	KindInvalidDefinition:         "The workflow definition is not valid.",
	KindInvoiceState:              "An invoice cannot be paid before it is raised.",
	KindInvalidInput:              "Some of the submitted values are not valid.",
}

// RejectionError carries the kind and offending field of a refused operation
type RejectionError struct {
	Kind   Kind
	Field  string
	Detail string
}

// Reject builds a rejection of the given kind
func Reject(kind Kind, field, format string, args ...interface{}) *RejectionError {
	return &RejectionError{
		Kind:   kind,
		Field:  field,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (e *RejectionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the sentinel so errors.Is works against the Err* values
func (e *RejectionError) Unwrap() error {
	return sentinels[e.Kind]
}

// Message returns a sentence suitable for showing to an end user
func (e *RejectionError) Message() string {
	if m, ok := messages[e.Kind]; ok {
		return m
	}
	return e.Detail
}

// AsRejection extracts a RejectionError from an error chain
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// KindOf returns the rejection kind of err, or "" for infrastructure failures
func KindOf(err error) Kind {
	if rej, ok := AsRejection(err); ok {
		return rej.Kind
	}
	for kind, sentinel := range sentinels {
		if kind != KindUnknownTransition && errors.Is(err, sentinel) {
			return kind
		}
	}
	if errors.Is(err, ErrUnknownTransition) {
		return KindUnknownTransition
	}
	return ""
}

// CheckStruct validates v's struct tags and reports the first failed field
// as a rejection of the given kind
func CheckStruct(v interface{}, kind Kind) error {
	err := utils.ValidateStruct(v)
	if err == nil {
		return nil
	}
	var verr *utils.ValidationError
	if errors.As(err, &verr) {
		return Reject(kind, verr.First(), "%s", verr.Error())
	}
	return err
}
