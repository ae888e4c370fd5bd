package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/practice-workflow/internal/application/access"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

// DefinitionSpec is the authoring form of a workflow definition
type DefinitionSpec struct {
	Name        string           `json:"name" yaml:"name" validate:"required,max=120"`
	Shared      bool             `json:"shared" yaml:"shared"`
	IsDefault   bool             `json:"is_default" yaml:"is_default"`
	Steps       []StepSpec       `json:"steps" yaml:"steps" validate:"required,min=2,dive"`
	Transitions []TransitionSpec `json:"transitions" yaml:"transitions" validate:"dive"`
}

// StepSpec describes one step by key
type StepSpec struct {
	Key                   string `json:"key" yaml:"key" validate:"required,key,max=64"`
	Name                  string `json:"name" yaml:"name" validate:"required,max=120"`
	Kind                  string `json:"kind" yaml:"kind" validate:"required,oneof=start normal terminal query"`
	Position              int    `json:"position" yaml:"position" validate:"gte=0"`
	Color                 string `json:"color" yaml:"color" validate:"omitempty,hexcolor"`
	WIPLimit              *int   `json:"wip_limit" yaml:"wip_limit" validate:"omitempty,gt=0"`
	Category              string `json:"category" yaml:"category" validate:"omitempty,oneof=pending active query_pending under_review completed draft"`
	RequiresInvoiceRaised bool   `json:"requires_invoice_raised" yaml:"requires_invoice_raised"`
	RequiresAssignee      bool   `json:"requires_assignee" yaml:"requires_assignee"`
}

// TransitionSpec describes one edge by step keys
type TransitionSpec struct {
	Key   string   `json:"key" yaml:"key" validate:"required,key,max=64"`
	Name  string   `json:"name" yaml:"name" validate:"required,max=120"`
	From  string   `json:"from" yaml:"from" validate:"required"`
	To    string   `json:"to" yaml:"to" validate:"required"`
	Roles []string `json:"roles" yaml:"roles" validate:"required,min=1,dive,required"`
}

// DefinitionService manages workflow definitions
type DefinitionService interface {
	Create(ctx context.Context, actor entity.Actor, tenantID int64, spec DefinitionSpec) (*entity.WorkflowDefinition, error)
	Get(ctx context.Context, actor entity.Actor, id int64) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, actor entity.Actor, tenantID int64) ([]*entity.WorkflowDefinition, error)
	SetDefault(ctx context.Context, actor entity.Actor, id int64) error
	Clone(ctx context.Context, actor entity.Actor, sourceID, tenantID int64) (*entity.WorkflowDefinition, error)
	Deactivate(ctx context.Context, actor entity.Actor, id int64) error
}

type definitionServiceImpl struct {
	repo      port.DefinitionRepository
	txManager port.TransactionManager
	catalog   port.GraphCatalog
	logger    port.Logger
	now       func() time.Time
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	repo port.DefinitionRepository,
	txManager port.TransactionManager,
	catalog port.GraphCatalog,
	logger port.Logger,
) DefinitionService {
	return &definitionServiceImpl{
		repo:      repo,
		txManager: txManager,
		catalog:   catalog,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates and stores a definition for tenantID, or a shared
// definition when spec.Shared is set by a super admin
func (s *definitionServiceImpl) Create(ctx context.Context, actor entity.Actor, tenantID int64, spec DefinitionSpec) (*entity.WorkflowDefinition, error) {
	if err := requireAdmin(actor, tenantID); err != nil {
		return nil, err
	}
	if spec.Shared && !actor.HasAnyRole(entity.RoleSuperAdmin) {
		return nil, domainwf.Reject(domainwf.KindForbidden, "shared", "only super admins may publish shared definitions")
	}
	if spec.Shared && spec.IsDefault {
		return nil, domainwf.Reject(domainwf.KindInvalidDefinition, "is_default", "shared definitions cannot be a tenant default")
	}

	def, err := BuildDefinition(spec)
	if err != nil {
		return nil, err
	}
	if !spec.Shared {
		def.TenantID = &tenantID
	}

	now := s.now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if def.IsDefault {
			if err := s.repo.ClearDefault(txCtx, tenantID); err != nil {
				return fmt.Errorf("failed to clear previous default: %w", err)
			}
		}
		return s.repo.Create(txCtx, def)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow definition created",
		"definition_id", def.ID,
		"tenant_id", tenantID,
		"steps", len(def.Steps),
		"transitions", len(def.Transitions),
	)
	return def, nil
}

// BuildDefinition validates a spec and converts it to an entity. The graph
// must be free of anomalies; loaded data is only tolerated, never authored.
func BuildDefinition(spec DefinitionSpec) (*entity.WorkflowDefinition, error) {
	if err := domainwf.CheckStruct(spec, domainwf.KindInvalidDefinition); err != nil {
		return nil, err
	}

	def := &entity.WorkflowDefinition{
		Name:      spec.Name,
		IsDefault: spec.IsDefault,
		IsActive:  true,
		Version:   1,
	}
	for i, st := range spec.Steps {
		position := st.Position
		if position == 0 {
			position = i + 1
		}
		def.Steps = append(def.Steps, &entity.Step{
			Key:                   st.Key,
			Name:                  st.Name,
			Kind:                  entity.StepKind(st.Kind),
			Position:              position,
			Color:                 st.Color,
			WIPLimit:              st.WIPLimit,
			Category:              entity.Category(st.Category),
			RequiresInvoiceRaised: st.RequiresInvoiceRaised,
			RequiresAssignee:      st.RequiresAssignee,
		})
	}
	for _, tr := range spec.Transitions {
		def.Transitions = append(def.Transitions, &entity.Transition{
			Key:          tr.Key,
			Name:         tr.Name,
			FromStepKey:  tr.From,
			ToStepKey:    tr.To,
			AllowedRoles: tr.Roles,
		})
	}

	g, err := domainwf.FromDefinition(def)
	if err != nil {
		return nil, err
	}
	if anomalies := g.Anomalies(); len(anomalies) > 0 {
		return nil, domainwf.Reject(domainwf.KindInvalidDefinition, "transitions", "%s", anomalies[0].Detail)
	}
	return def, nil
}

func (s *definitionServiceImpl) Get(ctx context.Context, actor entity.Actor, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if def == nil || (def.TenantID != nil && !access.InTenant(actor, *def.TenantID)) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "definition_id", "definition %d not found", id)
	}
	return def, nil
}

func (s *definitionServiceImpl) List(ctx context.Context, actor entity.Actor, tenantID int64) ([]*entity.WorkflowDefinition, error) {
	if !access.InTenant(actor, tenantID) {
		return nil, domainwf.Reject(domainwf.KindForbidden, "tenant_id", "tenant %d is outside the caller's tenant", tenantID)
	}
	return s.repo.ListByTenant(ctx, tenantID)
}

// SetDefault makes id its tenant's only default definition
func (s *definitionServiceImpl) SetDefault(ctx context.Context, actor entity.Actor, id int64) error {
	def, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if !def.IsActive {
		return domainwf.Reject(domainwf.KindInvalidDefinition, "definition_id", "definition %d is inactive", id)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.ClearDefault(txCtx, *def.TenantID); err != nil {
			return fmt.Errorf("failed to clear previous default: %w", err)
		}
		return s.repo.SetDefault(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.catalog.Invalidate(id)
	s.logger.Info("Default workflow definition changed", "definition_id", id, "tenant_id", *def.TenantID)
	return nil
}

// Clone copies a shared or tenant definition into tenantID with fresh ids
func (s *definitionServiceImpl) Clone(ctx context.Context, actor entity.Actor, sourceID, tenantID int64) (*entity.WorkflowDefinition, error) {
	if err := requireAdmin(actor, tenantID); err != nil {
		return nil, err
	}
	src, err := s.Get(ctx, actor, sourceID)
	if err != nil {
		return nil, err
	}

	spec := DefinitionSpec{Name: src.Name}
	for _, st := range src.Steps {
		spec.Steps = append(spec.Steps, StepSpec{
			Key:                   st.Key,
			Name:                  st.Name,
			Kind:                  string(st.Kind),
			Position:              st.Position,
			Color:                 st.Color,
			WIPLimit:              st.WIPLimit,
			Category:              string(st.Category),
			RequiresInvoiceRaised: st.RequiresInvoiceRaised,
			RequiresAssignee:      st.RequiresAssignee,
		})
	}
	for _, tr := range src.Transitions {
		spec.Transitions = append(spec.Transitions, TransitionSpec{
			Key:   tr.Key,
			Name:  tr.Name,
			From:  tr.FromStepKey,
			To:    tr.ToStepKey,
			Roles: append([]string(nil), tr.AllowedRoles...),
		})
	}

	return s.Create(ctx, actor, tenantID, spec)
}

// Deactivate stops new requests from using a definition. Requests already
// on it keep moving.
func (s *definitionServiceImpl) Deactivate(ctx context.Context, actor entity.Actor, id int64) error {
	def, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	tenantID := actor.TenantID
	if def.TenantID != nil {
		tenantID = *def.TenantID
	} else if !actor.HasAnyRole(entity.RoleSuperAdmin) {
		return domainwf.Reject(domainwf.KindForbidden, "definition_id", "shared definitions are managed by super admins")
	}
	if err := requireAdmin(actor, tenantID); err != nil {
		return err
	}

	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("failed to deactivate definition: %w", err)
	}
	s.catalog.Invalidate(id)
	return nil
}

func (s *definitionServiceImpl) owned(ctx context.Context, actor entity.Actor, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if def.TenantID == nil {
		return nil, domainwf.Reject(domainwf.KindInvalidDefinition, "definition_id", "shared definition %d must be cloned first", id)
	}
	if err := requireAdmin(actor, *def.TenantID); err != nil {
		return nil, err
	}
	return def, nil
}

func requireAdmin(actor entity.Actor, tenantID int64) error {
	if actor.HasAnyRole(entity.RoleSuperAdmin) {
		return nil
	}
	if !actor.HasAnyRole(entity.RoleAdmin) || actor.TenantID != tenantID {
		return domainwf.Reject(domainwf.KindForbidden, "roles", "definitions are managed by tenant admins")
	}
	return nil
}
