package entity

// User is a member of a tenant who can request, process or administer work
type User struct {
	ID       int64    `json:"id"`
	TenantID int64    `json:"tenant_id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	IsActive bool     `json:"is_active"`
}

// HasAnyRole returns true if the user holds at least one of the roles
func (u *User) HasAnyRole(roles ...string) bool {
	return hasAnyRole(u.Roles, roles)
}

// Tenant is an accounting practice. ParentID links a branch to its group.
type Tenant struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Actor is the identity triple supplied by the caller for every operation
type Actor struct {
	UserID   int64
	TenantID int64
	Roles    []string
}

// HasAnyRole returns true if the actor holds at least one of the roles
func (a Actor) HasAnyRole(roles ...string) bool {
	return hasAnyRole(a.Roles, roles)
}

// IsStaff returns true for any role other than the requesting client
func (a Actor) IsStaff() bool {
	return a.HasAnyRole(RoleSuperAdmin, RoleAdmin, RoleManager, RoleAccountant)
}

func hasAnyRole(held, wanted []string) bool {
	for _, w := range wanted {
		for _, h := range held {
			if h == w {
				return true
			}
		}
	}
	return false
}
