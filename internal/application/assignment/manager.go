// Package assignment owns which single user holds a request and enforces
// per-assignee, per-step work-in-progress ceilings.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/garyjia/practice-workflow/internal/application/access"
	"github.com/garyjia/practice-workflow/internal/application/dispatcher"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

var tracer = otel.Tracer("github.com/garyjia/practice-workflow/internal/application/assignment")

// DefaultRetryAttempts bounds the count-then-assign retry under lock contention
const DefaultRetryAttempts = 3

// assigneeRoles are the roles a user needs to hold requests
var assigneeRoles = []string{entity.RoleAccountant, entity.RoleManager, entity.RoleAdmin}

// Manager assigns and unassigns requests
type Manager struct {
	requests   port.RequestRepository
	users      port.UserRepository
	txManager  port.TransactionManager
	catalog    port.GraphCatalog
	dispatcher dispatcher.Dispatcher
	logger     port.Logger
	attempts   int
	now        func() time.Time
}

// Option configures the manager
type Option func(*Manager)

// WithDispatcher emits assigned and unassigned events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithLogger sets the manager logger
func WithLogger(l port.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithRetryAttempts sets how many times a contended assignment is retried
func WithRetryAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// NewManager creates an assignment manager
func NewManager(
	requests port.RequestRepository,
	users port.UserRepository,
	txManager port.TransactionManager,
	catalog port.GraphCatalog,
	opts ...Option,
) *Manager {
	m := &Manager{
		requests:  requests,
		users:     users,
		txManager: txManager,
		catalog:   catalog,
		logger:    port.NopLogger{},
		attempts:  DefaultRetryAttempts,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Assign makes assigneeID the single holder of the request. Reassignment is
// treated like a first assignment.
func (m *Manager) Assign(ctx context.Context, requestID int64, actor entity.Actor, assigneeID int64) (*entity.Request, error) {
	ctx, span := tracer.Start(ctx, "assignment.Assign")
	defer span.End()
	span.SetAttributes(attribute.Int64("request.id", requestID), attribute.Int64("assignee.id", assigneeID))

	if !actor.IsStaff() {
		return nil, domainwf.Reject(domainwf.KindForbidden, "roles", "only staff may assign requests")
	}

	var updated *entity.Request
	err := m.txManager.WithRetry(ctx, m.attempts, func(txCtx context.Context) error {
		req, err := m.load(txCtx, requestID, actor)
		if err != nil {
			return err
		}
		if err := m.checkAssignee(txCtx, req, assigneeID); err != nil {
			return err
		}

		g, err := m.catalog.Graph(txCtx, req.DefinitionID)
		if err != nil {
			return err
		}
		step, ok := g.Step(req.CurrentStepID)
		if !ok {
			return domainwf.Reject(domainwf.KindNotFound, "current_step", "step %d not found", req.CurrentStepID)
		}
		if err := m.checkCapacity(txCtx, assigneeID, step, req.ID); err != nil {
			return err
		}

		if err := m.requests.UpdateAssignee(txCtx, req.ID, &assigneeID); err != nil {
			return fmt.Errorf("failed to assign request: %w", err)
		}

		updated = req.Clone()
		updated.AssigneeID = &assigneeID
		updated.UpdatedAt = m.now().UTC()
		return nil
	})
	if errors.Is(err, port.ErrContention) {
		m.logger.Warn("Assignment contention exhausted retries",
			"request_id", requestID,
			"assignee_id", assigneeID,
			"attempts", m.attempts,
		)
		err = domainwf.Reject(domainwf.KindWipLimitExceeded, "assignee_id",
			"could not reserve capacity for user %d after %d attempts", assigneeID, m.attempts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.emit(ctx, event.NewEvent(event.TypeRequestAssigned, updated.ID, updated.TenantID, actor.UserID,
		map[string]interface{}{event.KeyAssigneeID: assigneeID}))
	return updated, nil
}

// Unassign clears the assignee. It never checks capacity.
func (m *Manager) Unassign(ctx context.Context, requestID int64, actor entity.Actor) (*entity.Request, error) {
	ctx, span := tracer.Start(ctx, "assignment.Unassign")
	defer span.End()
	span.SetAttributes(attribute.Int64("request.id", requestID))

	if !actor.IsStaff() {
		return nil, domainwf.Reject(domainwf.KindForbidden, "roles", "only staff may unassign requests")
	}

	var updated *entity.Request
	err := m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := m.load(txCtx, requestID, actor)
		if err != nil {
			return err
		}
		if err := m.requests.UpdateAssignee(txCtx, req.ID, nil); err != nil {
			return fmt.Errorf("failed to unassign request: %w", err)
		}
		updated = req.Clone()
		updated.AssigneeID = nil
		updated.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.emit(ctx, event.NewEvent(event.TypeRequestUnassigned, updated.ID, updated.TenantID, actor.UserID, nil))
	return updated, nil
}

// CheckTransition vets the assignee side of a move into dest. A non-nil
// assigneeID reassigns as part of the move.
func (m *Manager) CheckTransition(ctx context.Context, actor entity.Actor, req *entity.Request, dest *entity.Step, assigneeID *int64) error {
	holder := req.AssigneeID
	if assigneeID != nil {
		if !actor.IsStaff() {
			return domainwf.Reject(domainwf.KindForbidden, "assignee_id", "only staff may reassign requests")
		}
		if err := m.checkAssignee(ctx, req, *assigneeID); err != nil {
			return err
		}
		holder = assigneeID
	}

	if holder == nil {
		if dest.RequiresAssignee {
			return domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "step %q requires an assignee", dest.Key)
		}
		return nil
	}

	return m.checkCapacity(ctx, *holder, dest, req.ID)
}

// Workload returns how many open requests a user holds in each step
func (m *Manager) Workload(ctx context.Context, actor entity.Actor, assigneeID int64) (map[string]int, error) {
	if !actor.HasAnyRole(entity.RoleSuperAdmin, entity.RoleAdmin, entity.RoleManager) && actor.UserID != assigneeID {
		return nil, domainwf.Reject(domainwf.KindForbidden, "assignee_id", "cannot view another user's workload")
	}
	user, err := m.users.GetByID(ctx, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !access.InTenant(actor, user.TenantID) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "assignee_id", "user %d not found", assigneeID)
	}
	return m.requests.Workload(ctx, assigneeID)
}

// load applies request visibility: an accountant only reassigns or releases
// work they hold
func (m *Manager) load(ctx context.Context, requestID int64, actor entity.Actor) (*entity.Request, error) {
	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil || !access.CanView(actor, req) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", requestID)
	}
	return req, nil
}

func (m *Manager) checkAssignee(ctx context.Context, req *entity.Request, assigneeID int64) error {
	user, err := m.users.GetByID(ctx, assigneeID)
	if err != nil {
		return fmt.Errorf("failed to load assignee: %w", err)
	}
	switch {
	case user == nil:
		return domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "user %d does not exist", assigneeID)
	case user.TenantID != req.TenantID:
		return domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "user %d belongs to another tenant", assigneeID)
	case !user.IsActive:
		return domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "user %d is inactive", assigneeID)
	case !user.HasAnyRole(assigneeRoles...):
		return domainwf.Reject(domainwf.KindInvalidAssignee, "assignee_id", "user %d cannot hold requests", assigneeID)
	}
	return nil
}

// checkCapacity rejects when the assignee already holds step's limit of
// other requests
func (m *Manager) checkCapacity(ctx context.Context, assigneeID int64, step *entity.Step, requestID int64) error {
	if step.WIPLimit == nil {
		return nil
	}
	held, err := m.requests.CountAssigned(ctx, assigneeID, step.ID, requestID)
	if err != nil {
		return fmt.Errorf("failed to count assigned requests: %w", err)
	}
	if held >= *step.WIPLimit {
		return domainwf.Reject(domainwf.KindWipLimitExceeded, "assignee_id",
			"user %d already holds %d of %d requests in step %q", assigneeID, held, *step.WIPLimit, step.Key)
	}
	return nil
}

func (m *Manager) emit(ctx context.Context, evt *event.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Dispatch(ctx, evt); err != nil {
		m.logger.Warn("Event subscribers failed", "event_type", evt.Type, "request_id", evt.RequestID, "error", err)
	}
}

// CheckPlacement vets holding a new request of tenantID at step by
// assigneeID, applying the same eligibility and WIP rules as Assign.
// Callers run it inside the transaction that writes the request.
func (m *Manager) CheckPlacement(ctx context.Context, tenantID int64, step *entity.Step, assigneeID int64) error {
	if err := m.checkAssignee(ctx, &entity.Request{TenantID: tenantID}, assigneeID); err != nil {
		return err
	}
	return m.checkCapacity(ctx, assigneeID, step, 0)
}
