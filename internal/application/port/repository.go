package port

import (
	"context"
	"errors"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// ErrContention is returned by WithRetry when the store stayed locked
// for every attempt
var ErrContention = errors.New("write contention")

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in a write transaction carried by the context
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// WithRetry runs fn in a write transaction, retrying up to attempts times
	// while the store reports lock contention. Exhaustion yields ErrContention.
	WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error
}

// Scope narrows a request query to what an actor may see.
// Nil fields do not constrain the query.
type Scope struct {
	TenantID    *int64
	RequesterID *int64
	AssigneeID  *int64
}

// ListFilter pages and filters request listings
type ListFilter struct {
	StepKey    string
	AssigneeID *int64
	Limit      int
	Offset     int
}

// StepTally is the per-step rollup the metrics aggregator buckets
type StepTally struct {
	StepID          int64
	StepKey         string
	Kind            entity.StepKind
	Category        entity.Category
	Requests        int64
	InvoiceRaised   int64
	InvoicePaid     int64
	PaidCents       int64
	ReceivableCents int64
}

// TenantRepository defines persistence operations for Tenant
type TenantRepository interface {
	Create(ctx context.Context, tenant *entity.Tenant) error
	GetByID(ctx context.Context, id int64) (*entity.Tenant, error)
}

// UserRepository defines persistence operations for User
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}

// DefinitionRepository defines persistence operations for WorkflowDefinition
// and its steps and transitions
type DefinitionRepository interface {
	// Create inserts the definition with its steps and transitions, filling ids
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	// GetByID loads a definition with its steps and transitions
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	// GetDefault returns the tenant's default definition header
	GetDefault(ctx context.Context, tenantID int64) (*entity.WorkflowDefinition, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]*entity.WorkflowDefinition, error)
	ClearDefault(ctx context.Context, tenantID int64) error
	SetDefault(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	// Versions returns the current version of every definition
	Versions(ctx context.Context) (map[int64]int64, error)
}

// RequestRepository defines persistence operations for Request
type RequestRepository interface {
	Create(ctx context.Context, req *entity.Request) error
	GetByID(ctx context.Context, id int64) (*entity.Request, error)
	List(ctx context.Context, scope Scope, filter ListFilter) ([]*entity.Request, error)
	// MoveStep writes the lifecycle fields of req only if the stored row is
	// still at fromStepID. It reports whether a row was updated.
	MoveStep(ctx context.Context, req *entity.Request, fromStepID int64) (bool, error)
	UpdateAssignee(ctx context.Context, id int64, assigneeID *int64) error
	UpdateInvoice(ctx context.Context, id int64, raised, paid bool, amountCents int64) error
	UpdateNotes(ctx context.Context, id int64, notes string) error
	// CountAssigned counts requests held by assigneeID at stepID, ignoring excludeID
	CountAssigned(ctx context.Context, assigneeID, stepID, excludeID int64) (int, error)
	// Workload returns assigneeID's open request count per step key
	Workload(ctx context.Context, assigneeID int64) (map[string]int, error)
}

// HistoryRepository defines persistence operations for RequestTransition
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.RequestTransition) error
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.RequestTransition, error)
}

// MetricsRepository defines the read path used by dashboards
type MetricsRepository interface {
	TallyByStep(ctx context.Context, scope Scope) ([]StepTally, error)
}
