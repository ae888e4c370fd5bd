// Package access derives what an actor may see from the identity triple.
// Request reads and metrics share these rules so counts never leak
// across tenants or users.
package access

import (
	"context"
	"fmt"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

// ScopeFor returns the request scope visible to actor. tenantFilter narrows a
// cross-tenant viewer to one tenant; other roles may only name their own.
func ScopeFor(actor entity.Actor, tenantFilter *int64) (port.Scope, error) {
	if actor.HasAnyRole(entity.RoleSuperAdmin) {
		return port.Scope{TenantID: tenantFilter}, nil
	}

	if tenantFilter != nil && *tenantFilter != actor.TenantID {
		return port.Scope{}, domainwf.Reject(domainwf.KindForbidden, "tenant_id",
			"tenant %d is outside the caller's tenant", *tenantFilter)
	}

	tenantID := actor.TenantID
	userID := actor.UserID
	switch {
	case actor.HasAnyRole(entity.RoleAdmin, entity.RoleManager):
		return port.Scope{TenantID: &tenantID}, nil
	case actor.HasAnyRole(entity.RoleAccountant):
		return port.Scope{TenantID: &tenantID, AssigneeID: &userID}, nil
	case actor.HasAnyRole(entity.RoleClient):
		return port.Scope{TenantID: &tenantID, RequesterID: &userID}, nil
	default:
		return port.Scope{}, domainwf.Reject(domainwf.KindForbidden, "roles", "no role grants visibility")
	}
}

// maxTenantDepth bounds the parent walk so a cycle in bad data cannot spin
const maxTenantDepth = 8

// TenantLookup reads one tenant; port.TenantRepository satisfies it
type TenantLookup interface {
	GetByID(ctx context.Context, id int64) (*entity.Tenant, error)
}

// ResolveScope is ScopeFor plus the tenant hierarchy: an admin or manager may
// narrow to any tenant below their own. Other filters follow ScopeFor.
func ResolveScope(ctx context.Context, tenants TenantLookup, actor entity.Actor, tenantFilter *int64) (port.Scope, error) {
	if tenants == nil || tenantFilter == nil || *tenantFilter == actor.TenantID ||
		actor.HasAnyRole(entity.RoleSuperAdmin) || !actor.HasAnyRole(entity.RoleAdmin, entity.RoleManager) {
		return ScopeFor(actor, tenantFilter)
	}

	below, err := descendsFrom(ctx, tenants, *tenantFilter, actor.TenantID)
	if err != nil {
		return port.Scope{}, err
	}
	if !below {
		return ScopeFor(actor, tenantFilter)
	}
	child := *tenantFilter
	return port.Scope{TenantID: &child}, nil
}

func descendsFrom(ctx context.Context, tenants TenantLookup, tenantID, ancestorID int64) (bool, error) {
	current := tenantID
	for depth := 0; depth < maxTenantDepth; depth++ {
		t, err := tenants.GetByID(ctx, current)
		if err != nil {
			return false, fmt.Errorf("failed to load tenant %d: %w", current, err)
		}
		if t == nil || t.ParentID == nil {
			return false, nil
		}
		if *t.ParentID == ancestorID {
			return true, nil
		}
		current = *t.ParentID
	}
	return false, nil
}

// CanView applies the same rules as ScopeFor to a single request
func CanView(actor entity.Actor, req *entity.Request) bool {
	scope, err := ScopeFor(actor, nil)
	if err != nil {
		return false
	}
	return Matches(scope, req)
}

// Matches reports whether req falls inside scope
func Matches(scope port.Scope, req *entity.Request) bool {
	if scope.TenantID != nil && *scope.TenantID != req.TenantID {
		return false
	}
	if scope.RequesterID != nil && *scope.RequesterID != req.RequesterID {
		return false
	}
	if scope.AssigneeID != nil && !req.IsAssignedTo(*scope.AssigneeID) {
		return false
	}
	return true
}

// InTenant reports whether actor may act on records of tenantID
func InTenant(actor entity.Actor, tenantID int64) bool {
	return actor.HasAnyRole(entity.RoleSuperAdmin) || actor.TenantID == tenantID
}
