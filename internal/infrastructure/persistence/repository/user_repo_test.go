package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

func TestUserRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mgr := f.user(t, "Dee", entity.RoleManager, entity.RoleAccountant)

	got, err := f.users.GetByID(ctx, mgr.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{entity.RoleManager, entity.RoleAccountant}, got.Roles)
	assert.True(t, got.IsActive)
	assert.Equal(t, f.tenant.ID, got.TenantID)

	missing, err := f.users.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTenantRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	branch := &entity.Tenant{Name: "North branch", ParentID: &f.tenant.ID}
	require.NoError(t, f.tenants.Create(ctx, branch))

	got, err := f.tenants.GetByID(ctx, branch.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, f.tenant.ID, *got.ParentID)

	root, err := f.tenants.GetByID(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, root.ParentID)
}
