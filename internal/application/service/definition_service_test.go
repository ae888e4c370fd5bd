package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/application/port/porttest"
	"github.com/garyjia/practice-workflow/internal/application/workflow"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

const tenantID int64 = 11

type mockCatalog struct {
	invalidated []int64
	graphFunc   func(ctx context.Context, id int64) (*domainwf.Graph, error)
}

func (m *mockCatalog) Graph(ctx context.Context, id int64) (*domainwf.Graph, error) {
	if m.graphFunc != nil {
		return m.graphFunc(ctx, id)
	}
	return nil, domainwf.Reject(domainwf.KindNotFound, "definition_id", "not cached")
}

func (m *mockCatalog) Invalidate(id int64) {
	m.invalidated = append(m.invalidated, id)
}

var (
	tenantAdmin = entity.Actor{UserID: 1, TenantID: tenantID, Roles: []string{entity.RoleAdmin}}
	superAdmin  = entity.Actor{UserID: 2, TenantID: 1, Roles: []string{entity.RoleSuperAdmin}}
	manager     = entity.Actor{UserID: 3, TenantID: tenantID, Roles: []string{entity.RoleManager}}
)

func simpleSpec() DefinitionSpec {
	return DefinitionSpec{
		Name: "Tax return",
		Steps: []StepSpec{
			{Key: "received", Name: "Received", Kind: "start"},
			{Key: "preparing", Name: "Preparing", Kind: "normal", RequiresAssignee: true},
			{Key: "filed", Name: "Filed", Kind: "terminal"},
		},
		Transitions: []TransitionSpec{
			{Key: "prepare", Name: "Prepare", From: "received", To: "preparing", Roles: []string{entity.RoleAdmin}},
			{Key: "file", Name: "File", From: "preparing", To: "filed", Roles: []string{entity.RoleAdmin, entity.RoleAccountant}},
		},
	}
}

func newDefinitionService(store *porttest.Store) (DefinitionService, *mockCatalog) {
	catalog := &mockCatalog{}
	return NewDefinitionService(store.DefinitionRepo(), &porttest.TxManager{}, catalog, port.NopLogger{}), catalog
}

func TestDefinitionService_Create(t *testing.T) {
	store := porttest.NewStore()
	svc, _ := newDefinitionService(store)

	spec := simpleSpec()
	spec.IsDefault = true
	def, err := svc.Create(context.Background(), tenantAdmin, tenantID, spec)
	require.NoError(t, err)

	assert.NotZero(t, def.ID)
	require.NotNil(t, def.TenantID)
	assert.Equal(t, tenantID, *def.TenantID)
	assert.True(t, def.IsActive)
	assert.Len(t, def.Steps, 3)
	assert.Equal(t, 2, def.Steps[1].Position)

	stored, err := store.DefinitionRepo().GetDefault(context.Background(), tenantID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, def.ID, stored.ID)
}

func TestDefinitionService_CreateRejectsBadGraphs(t *testing.T) {
	store := porttest.NewStore()
	svc, _ := newDefinitionService(store)

	tests := []struct {
		name   string
		mutate func(*DefinitionSpec)
	}{
		{"missing name", func(s *DefinitionSpec) { s.Name = "" }},
		{"bad key", func(s *DefinitionSpec) { s.Steps[1].Key = "Preparing Now" }},
		{"unknown kind", func(s *DefinitionSpec) { s.Steps[1].Kind = "limbo" }},
		{"zero wip", func(s *DefinitionSpec) { zero := 0; s.Steps[1].WIPLimit = &zero }},
		{"two starts", func(s *DefinitionSpec) { s.Steps[1].Kind = "start" }},
		{"no terminal", func(s *DefinitionSpec) { s.Steps[2].Kind = "normal" }},
		{"duplicate keys", func(s *DefinitionSpec) { s.Steps[2].Key = "preparing" }},
		{"self loop", func(s *DefinitionSpec) { s.Transitions[0].To = "received" }},
		{"empty roles", func(s *DefinitionSpec) { s.Transitions[0].Roles = nil }},
		{"dangling endpoint", func(s *DefinitionSpec) { s.Transitions[1].To = "archived" }},
		{"leaves terminal", func(s *DefinitionSpec) {
			s.Transitions = append(s.Transitions, TransitionSpec{Key: "reopen", Name: "Reopen", From: "filed", To: "preparing", Roles: []string{entity.RoleAdmin}})
		}},
		{"duplicate edge", func(s *DefinitionSpec) {
			s.Transitions = append(s.Transitions, TransitionSpec{Key: "prepare_again", Name: "Prepare", From: "received", To: "preparing", Roles: []string{entity.RoleAdmin}})
		}},
		{"orphaned step", func(s *DefinitionSpec) {
			s.Steps = append(s.Steps, StepSpec{Key: "limbo", Name: "Limbo", Kind: "normal"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := simpleSpec()
			tt.mutate(&spec)
			_, err := svc.Create(context.Background(), tenantAdmin, tenantID, spec)
			require.ErrorIs(t, err, domainwf.ErrInvalidDefinition)
			rej, ok := domainwf.AsRejection(err)
			require.True(t, ok)
			assert.NotEmpty(t, rej.Field)
		})
	}
	assert.Empty(t, store.Definitions)
}

func TestDefinitionService_Permissions(t *testing.T) {
	store := porttest.NewStore()
	svc, _ := newDefinitionService(store)
	ctx := context.Background()

	_, err := svc.Create(ctx, manager, tenantID, simpleSpec())
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	_, err = svc.Create(ctx, tenantAdmin, tenantID+1, simpleSpec())
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	shared := simpleSpec()
	shared.Shared = true
	_, err = svc.Create(ctx, tenantAdmin, tenantID, shared)
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	shared.IsDefault = true
	_, err = svc.Create(ctx, superAdmin, tenantID, shared)
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)

	shared.IsDefault = false
	def, err := svc.Create(ctx, superAdmin, tenantID, shared)
	require.NoError(t, err)
	assert.Nil(t, def.TenantID)
}

func TestDefinitionService_SetDefaultKeepsOneDefault(t *testing.T) {
	store := porttest.NewStore()
	svc, catalog := newDefinitionService(store)
	ctx := context.Background()

	first := simpleSpec()
	first.IsDefault = true
	a, err := svc.Create(ctx, tenantAdmin, tenantID, first)
	require.NoError(t, err)

	second := simpleSpec()
	second.IsDefault = true
	b, err := svc.Create(ctx, tenantAdmin, tenantID, second)
	require.NoError(t, err)
	assert.False(t, store.Definitions[a.ID].IsDefault, "creating a new default clears the old one")

	require.NoError(t, svc.SetDefault(ctx, tenantAdmin, a.ID))
	assert.True(t, store.Definitions[a.ID].IsDefault)
	assert.False(t, store.Definitions[b.ID].IsDefault)
	assert.Contains(t, catalog.invalidated, a.ID)

	defaults := 0
	for _, d := range store.Definitions {
		if d.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	require.NoError(t, svc.Deactivate(ctx, tenantAdmin, b.ID))
	assert.ErrorIs(t, svc.SetDefault(ctx, tenantAdmin, b.ID), domainwf.ErrInvalidDefinition)
}

func TestDefinitionService_CloneShared(t *testing.T) {
	store := porttest.NewStore()
	svc, _ := newDefinitionService(store)
	ctx := context.Background()

	shared := store.AddDefinition(workflow.StandardDefinition())

	clone, err := svc.Clone(ctx, tenantAdmin, shared.ID, tenantID)
	require.NoError(t, err)
	assert.NotEqual(t, shared.ID, clone.ID)
	require.NotNil(t, clone.TenantID)
	assert.Equal(t, tenantID, *clone.TenantID)
	require.Len(t, clone.Steps, len(shared.Steps))
	require.Len(t, clone.Transitions, len(shared.Transitions))

	for i, st := range clone.Steps {
		assert.Equal(t, shared.Steps[i].Key, st.Key)
		assert.NotEqual(t, shared.Steps[i].ID, st.ID)
	}
	assert.Equal(t, shared.Transitions[0].AllowedRoles, clone.Transitions[0].AllowedRoles)

	// Shared definitions are cloned, never made a tenant default directly
	assert.ErrorIs(t, svc.SetDefault(ctx, tenantAdmin, shared.ID), domainwf.ErrInvalidDefinition)

	foreign := workflow.StandardDefinition()
	other := tenantID + 5
	foreign.TenantID = &other
	store.AddDefinition(foreign)
	_, err = svc.Clone(ctx, tenantAdmin, foreign.ID, tenantID)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestDefinitionService_Deactivate(t *testing.T) {
	store := porttest.NewStore()
	svc, catalog := newDefinitionService(store)
	ctx := context.Background()

	def, err := svc.Create(ctx, tenantAdmin, tenantID, simpleSpec())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Deactivate(ctx, manager, def.ID), domainwf.ErrForbidden)
	require.NoError(t, svc.Deactivate(ctx, tenantAdmin, def.ID))
	assert.False(t, store.Definitions[def.ID].IsActive)
	assert.Equal(t, []int64{def.ID}, catalog.invalidated)

	shared := store.AddDefinition(workflow.StandardDefinition())
	assert.ErrorIs(t, svc.Deactivate(ctx, tenantAdmin, shared.ID), domainwf.ErrForbidden)
	require.NoError(t, svc.Deactivate(ctx, superAdmin, shared.ID))
}

func TestDefinitionService_GetAndList(t *testing.T) {
	store := porttest.NewStore()
	svc, _ := newDefinitionService(store)
	ctx := context.Background()

	def, err := svc.Create(ctx, tenantAdmin, tenantID, simpleSpec())
	require.NoError(t, err)
	store.AddDefinition(workflow.StandardDefinition())

	got, err := svc.Get(ctx, manager, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)

	outsider := entity.Actor{UserID: 9, TenantID: tenantID + 1, Roles: []string{entity.RoleAdmin}}
	_, err = svc.Get(ctx, outsider, def.ID)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	list, err := svc.List(ctx, manager, tenantID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.List(ctx, outsider, tenantID)
	assert.ErrorIs(t, err, domainwf.ErrForbidden)
}
