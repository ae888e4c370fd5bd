package access

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestScopeFor(t *testing.T) {
	tests := []struct {
		name          string
		actor         entity.Actor
		filter        *int64
		wantTenant    *int64
		wantRequester *int64
		wantAssignee  *int64
		wantErr       bool
	}{
		{
			name:       "super admin sees every tenant",
			actor:      entity.Actor{UserID: 1, TenantID: 1, Roles: []string{"super_admin"}},
			wantTenant: nil,
		},
		{
			name:       "super admin narrows to a tenant",
			actor:      entity.Actor{UserID: 1, TenantID: 1, Roles: []string{"super_admin"}},
			filter:     int64Ptr(5),
			wantTenant: int64Ptr(5),
		},
		{
			name:       "admin sees own tenant",
			actor:      entity.Actor{UserID: 2, TenantID: 3, Roles: []string{"admin"}},
			wantTenant: int64Ptr(3),
		},
		{
			name:    "admin cannot name another tenant",
			actor:   entity.Actor{UserID: 2, TenantID: 3, Roles: []string{"admin"}},
			filter:  int64Ptr(4),
			wantErr: true,
		},
		{
			name:         "accountant sees assigned work",
			actor:        entity.Actor{UserID: 7, TenantID: 3, Roles: []string{"accountant"}},
			wantTenant:   int64Ptr(3),
			wantAssignee: int64Ptr(7),
		},
		{
			name:          "client sees own requests",
			actor:         entity.Actor{UserID: 9, TenantID: 3, Roles: []string{"client"}},
			wantTenant:    int64Ptr(3),
			wantRequester: int64Ptr(9),
		},
		{
			name:       "highest role wins",
			actor:      entity.Actor{UserID: 7, TenantID: 3, Roles: []string{"accountant", "manager"}},
			wantTenant: int64Ptr(3),
		},
		{
			name:    "no roles",
			actor:   entity.Actor{UserID: 7, TenantID: 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := ScopeFor(tt.actor, tt.filter)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domainwf.ErrForbidden))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant, scope.TenantID)
			assert.Equal(t, tt.wantRequester, scope.RequesterID)
			assert.Equal(t, tt.wantAssignee, scope.AssigneeID)
		})
	}
}

func TestCanView(t *testing.T) {
	req := &entity.Request{ID: 1, TenantID: 3, RequesterID: 9, AssigneeID: int64Ptr(7)}

	assert.True(t, CanView(entity.Actor{UserID: 9, TenantID: 3, Roles: []string{"client"}}, req))
	assert.False(t, CanView(entity.Actor{UserID: 10, TenantID: 3, Roles: []string{"client"}}, req))
	assert.True(t, CanView(entity.Actor{UserID: 7, TenantID: 3, Roles: []string{"accountant"}}, req))
	assert.False(t, CanView(entity.Actor{UserID: 8, TenantID: 3, Roles: []string{"accountant"}}, req))
	assert.True(t, CanView(entity.Actor{UserID: 2, TenantID: 3, Roles: []string{"admin"}}, req))
	assert.False(t, CanView(entity.Actor{UserID: 2, TenantID: 4, Roles: []string{"admin"}}, req))
	assert.True(t, CanView(entity.Actor{UserID: 1, TenantID: 1, Roles: []string{"super_admin"}}, req))
}

type mockTenants struct {
	getFunc func(ctx context.Context, id int64) (*entity.Tenant, error)
}

func (m *mockTenants) GetByID(ctx context.Context, id int64) (*entity.Tenant, error) {
	return m.getFunc(ctx, id)
}

func TestResolveScope(t *testing.T) {
	// 1 -> 2 -> 3 is a chain; 4 stands alone; 5 points at itself
	parents := map[int64]*int64{1: nil, 2: int64Ptr(1), 3: int64Ptr(2), 4: nil, 5: int64Ptr(5)}
	tenants := &mockTenants{getFunc: func(_ context.Context, id int64) (*entity.Tenant, error) {
		parent, ok := parents[id]
		if !ok {
			return nil, nil
		}
		return &entity.Tenant{ID: id, ParentID: parent}, nil
	}}

	tests := []struct {
		name       string
		actor      entity.Actor
		filter     *int64
		wantTenant *int64
		wantErr    error
	}{
		{name: "admin narrows to a child", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, filter: int64Ptr(2), wantTenant: int64Ptr(2)},
		{name: "manager narrows to a grandchild", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"manager"}}, filter: int64Ptr(3), wantTenant: int64Ptr(3)},
		{name: "child admin cannot climb to the parent", actor: entity.Actor{UserID: 2, TenantID: 2, Roles: []string{"admin"}}, filter: int64Ptr(1), wantErr: domainwf.ErrForbidden},
		{name: "unrelated tenant", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, filter: int64Ptr(4), wantErr: domainwf.ErrForbidden},
		{name: "unknown tenant", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, filter: int64Ptr(99), wantErr: domainwf.ErrForbidden},
		{name: "self-parented tenant stops the walk", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, filter: int64Ptr(5), wantErr: domainwf.ErrForbidden},
		{name: "accountant never narrows", actor: entity.Actor{UserID: 7, TenantID: 1, Roles: []string{"accountant"}}, filter: int64Ptr(2), wantErr: domainwf.ErrForbidden},
		{name: "own tenant filter", actor: entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, filter: int64Ptr(1), wantTenant: int64Ptr(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := ResolveScope(context.Background(), tenants, tt.actor, tt.filter)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant, scope.TenantID)
			assert.Nil(t, scope.RequesterID)
			assert.Nil(t, scope.AssigneeID)
		})
	}

	t.Run("lookup failure surfaces", func(t *testing.T) {
		broken := &mockTenants{getFunc: func(context.Context, int64) (*entity.Tenant, error) {
			return nil, errors.New("disk gone")
		}}
		_, err := ResolveScope(context.Background(), broken, entity.Actor{UserID: 2, TenantID: 1, Roles: []string{"admin"}}, int64Ptr(2))
		assert.ErrorContains(t, err, "disk gone")
	})
}
