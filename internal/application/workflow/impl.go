package workflow

import (
	"context"
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

var tracer = otel.Tracer("github.com/garyjia/practice-workflow/internal/application/workflow")

// AssignmentChecker vets the assignee side of a move
type AssignmentChecker interface {
	CheckTransition(ctx context.Context, actor entity.Actor, req *entity.Request, dest *entity.Step, assigneeID *int64) error
}

type engineImpl struct {
	requestRepo    port.RequestRepository
	historyRepo    port.HistoryRepository
	definitionRepo port.DefinitionRepository
	userRepo       port.UserRepository
	txManager      port.TransactionManager
	catalog        port.GraphCatalog
	assignments    AssignmentChecker

	validator  *domainwf.Validator
	statuses   *domainwf.StatusMapping
	dispatcher dispatcher.Dispatcher
	logger     port.Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithPreconditions replaces the default destination-step rules
func WithPreconditions(p domainwf.Preconditions) EngineOption {
	return func(e *engineImpl) {
		e.validator = domainwf.NewValidator(p)
	}
}

// WithStatusMapping sets the label mapping shared with import tooling
func WithStatusMapping(m *domainwf.StatusMapping) EngineOption {
	return func(e *engineImpl) {
		e.statuses = m
	}
}

// WithLogger sets the engine logger
func WithLogger(l port.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	definitionRepo port.DefinitionRepository,
	userRepo port.UserRepository,
	txManager port.TransactionManager,
	catalog port.GraphCatalog,
	assignments AssignmentChecker,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requestRepo:    requestRepo,
		historyRepo:    historyRepo,
		definitionRepo: definitionRepo,
		userRepo:       userRepo,
		txManager:      txManager,
		catalog:        catalog,
		assignments:    assignments,
		validator:      domainwf.NewValidator(domainwf.DefaultPreconditions()),
		statuses:       domainwf.NewStatusMapping(nil),
		logger:         port.NopLogger{},
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Create(ctx context.Context, actor entity.Actor, in NewRequest) (*entity.Request, error) {
	ctx, span := tracer.Start(ctx, "workflow.Create")
	defer span.End()

	if err := domainwf.CheckStruct(in, domainwf.KindInvalidInput); err != nil {
		return nil, err
	}

	tenantID := actor.TenantID
	if in.TenantID != 0 && in.TenantID != actor.TenantID {
		if !actor.HasAnyRole(entity.RoleSuperAdmin) {
			return nil, domainwf.Reject(domainwf.KindForbidden, "tenant_id", "cannot open requests for tenant %d", in.TenantID)
		}
		tenantID = in.TenantID
	}

	requesterID := in.RequesterID
	if requesterID == 0 {
		requesterID = actor.UserID
	}
	if requesterID != actor.UserID {
		if !actor.IsStaff() {
			return nil, domainwf.Reject(domainwf.KindForbidden, "requester_id", "clients may only open their own requests")
		}
		requester, err := e.userRepo.GetByID(ctx, requesterID)
		if err != nil {
			return nil, fmt.Errorf("failed to load requester: %w", err)
		}
		if requester == nil || requester.TenantID != tenantID {
			return nil, domainwf.Reject(domainwf.KindNotFound, "requester_id", "requester %d not found", requesterID)
		}
	}

	def, err := e.resolveDefinition(ctx, tenantID, in.DefinitionID)
	if err != nil {
		return nil, err
	}

	g, err := e.catalog.Graph(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	start := g.Start()

	priority := in.Priority
	if priority == "" {
		priority = entity.PriorityNormal
	}

	now := e.now().UTC()
	req := &entity.Request{
		TenantID:      tenantID,
		DefinitionID:  def.ID,
		RequesterID:   requesterID,
		CurrentStepID: start.ID,
		StatusLabel:   e.statuses.Label(start),
		Title:         in.Title,
		Priority:      priority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.requestRepo.Create(txCtx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return e.historyRepo.Create(txCtx, &entity.RequestTransition{
			RequestID: req.ID,
			ToStepKey: start.Key,
			ActorID:   actor.UserID,
			CreatedAt: now,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("request.id", req.ID))
	e.emit(ctx, event.NewEvent(event.TypeRequestCreated, req.ID, req.TenantID, actor.UserID, map[string]interface{}{
		event.KeyToStepKey: start.Key,
	}))

	return req, nil
}

func (e *engineImpl) resolveDefinition(ctx context.Context, tenantID, definitionID int64) (*entity.WorkflowDefinition, error) {
	var (
		def *entity.WorkflowDefinition
		err error
	)
	if definitionID != 0 {
		def, err = e.definitionRepo.GetByID(ctx, definitionID)
	} else {
		def, err = e.definitionRepo.GetDefault(ctx, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve definition: %w", err)
	}
	if def == nil || (def.TenantID != nil && *def.TenantID != tenantID) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "definition_id", "no usable definition for tenant %d", tenantID)
	}
	if !def.IsActive {
		return nil, domainwf.Reject(domainwf.KindInvalidDefinition, "definition_id", "definition %d is inactive", def.ID)
	}
	return def, nil
}

func (e *engineImpl) Transition(ctx context.Context, cmd TransitionCommand) (*entity.Request, error) {
	ctx, span := tracer.Start(ctx, "workflow.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("request.id", cmd.RequestID),
		attribute.String("transition.key", cmd.TransitionKey),
	)

	updated, from, tr, err := e.transition(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.emit(ctx, event.NewStepReached(event.StepReached{
		RequestID:     updated.ID,
		TenantID:      updated.TenantID,
		FromStepKey:   from,
		ToStepKey:     tr.ToStepKey,
		TransitionKey: tr.Key,
		ActorID:       cmd.Actor.UserID,
		Timestamp:     updated.UpdatedAt,
	}))

	return updated, nil
}

func (e *engineImpl) transition(ctx context.Context, cmd TransitionCommand) (*entity.Request, string, *entity.Transition, error) {
	snapshot, err := e.loadRequest(ctx, cmd.RequestID, cmd.Actor)
	if err != nil {
		return nil, "", nil, err
	}

	g, err := e.catalog.Graph(ctx, snapshot.DefinitionID)
	if err != nil {
		return nil, "", nil, err
	}

	fromKey := cmd.ExpectedStepKey
	if fromKey == "" {
		current, err := e.currentStep(g, snapshot)
		if err != nil {
			return nil, "", nil, err
		}
		fromKey = current.Key
	} else if _, ok := g.StepByKey(fromKey); !ok {
		return nil, "", nil, domainwf.Reject(domainwf.KindNotFound, "expected_step_key", "step %q not found", fromKey)
	}

	tr, err := g.Lookup(fromKey, cmd.TransitionKey)
	if err != nil {
		return nil, "", nil, err
	}
	dest, _ := g.StepByKey(tr.ToStepKey)

	var updated *entity.Request
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := e.requestRepo.GetByID(txCtx, cmd.RequestID)
		if err != nil {
			return fmt.Errorf("failed to reload request: %w", err)
		}
		if req == nil {
			return domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", cmd.RequestID)
		}

		if err := e.evaluate(txCtx, g, tr, dest, cmd.Actor, req, cmd.AssigneeID); err != nil {
			return err
		}

		now := e.now().UTC()
		next := req.Clone()
		next.CurrentStepID = dest.ID
		next.StatusLabel = e.statuses.Label(dest)
		next.UpdatedAt = now
		next.CompletedAt = nil
		if dest.IsTerminal() {
			next.CompletedAt = &now
		}
		if cmd.AssigneeID != nil {
			next.AssigneeID = cmd.AssigneeID
		}

		moved, err := e.requestRepo.MoveStep(txCtx, next, tr.FromStepID)
		if err != nil {
			return fmt.Errorf("failed to move request: %w", err)
		}
		if !moved {
			return domainwf.Reject(domainwf.KindStaleState, "current_step", "request %d is no longer at step %q", req.ID, tr.FromStepKey)
		}

		transitionID := tr.ID
		if err := e.historyRepo.Create(txCtx, &entity.RequestTransition{
			RequestID:    req.ID,
			TransitionID: &transitionID,
			FromStepKey:  tr.FromStepKey,
			ToStepKey:    tr.ToStepKey,
			ActorID:      cmd.Actor.UserID,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}

	return updated, tr.FromStepKey, tr, nil
}

func (e *engineImpl) CanTransition(ctx context.Context, requestID int64, actor entity.Actor) ([]AvailableTransition, error) {
	ctx, span := tracer.Start(ctx, "workflow.CanTransition")
	defer span.End()

	req, err := e.loadRequest(ctx, requestID, actor)
	if err != nil {
		return nil, err
	}

	g, err := e.catalog.Graph(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	current, err := e.currentStep(g, req)
	if err != nil {
		return nil, err
	}

	available := []AvailableTransition{}
	for _, tr := range g.Outgoing(current.Key) {
		dest, _ := g.StepByKey(tr.ToStepKey)
		if err := e.evaluate(ctx, g, tr, dest, actor, req, nil); err != nil {
			if domainwf.KindOf(err) == "" {
				return nil, err
			}
			continue
		}
		available = append(available, AvailableTransition{
			Key:        tr.Key,
			Name:       tr.Name,
			ToStepKey:  dest.Key,
			ToStepName: dest.Name,
		})
	}

	return available, nil
}

// evaluate is the eligibility check shared by Transition and CanTransition
func (e *engineImpl) evaluate(ctx context.Context, g *domainwf.Graph, tr *entity.Transition, dest *entity.Step, actor entity.Actor, req *entity.Request, assigneeID *int64) error {
	if err := e.validator.Validate(g, tr, actor.Roles, req); err != nil {
		return err
	}
	return e.assignments.CheckTransition(ctx, actor, req, dest, assigneeID)
}

// loadRequest hides requests the actor cannot see, so a caller can never act
// on a request that Get would not return.
func (e *engineImpl) loadRequest(ctx context.Context, requestID int64, actor entity.Actor) (*entity.Request, error) {
	req, err := e.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil || !access.CanView(actor, req) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", requestID)
	}
	return req, nil
}

func (e *engineImpl) currentStep(g *domainwf.Graph, req *entity.Request) (*entity.Step, error) {
	current, ok := g.Step(req.CurrentStepID)
	if !ok {
		e.logger.Warn("Request points at a step outside its definition",
			"request_id", req.ID,
			"definition_id", req.DefinitionID,
			"step_id", req.CurrentStepID,
		)
		return nil, domainwf.Reject(domainwf.KindNotFound, "current_step", "step %d not found in definition %d", req.CurrentStepID, req.DefinitionID)
	}
	return current, nil
}

// emit dispatches synchronously; subscriber failures never undo a commit
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.Warn("Event subscribers failed",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"request_id", evt.RequestID,
			"error", err,
		)
	}
}
