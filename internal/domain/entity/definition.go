package entity

import (
	"strings"
	"time"
)

// WorkflowDefinition is a tenant's configurable lifecycle graph.
// TenantID is nil for shared definitions that tenants clone.
type WorkflowDefinition struct {
	ID        int64     `json:"id"`
	TenantID  *int64    `json:"tenant_id,omitempty"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	IsActive  bool      `json:"is_active"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Steps       []*Step       `json:"steps,omitempty"`
	Transitions []*Transition `json:"transitions,omitempty"`
}

// Step is one lifecycle position within a definition
type Step struct {
	ID                    int64    `json:"id"`
	DefinitionID          int64    `json:"definition_id"`
	Key                   string   `json:"key"`
	Name                  string   `json:"name"`
	Kind                  StepKind `json:"kind"`
	Position              int      `json:"position"`
	Color                 string   `json:"color,omitempty"`
	WIPLimit              *int     `json:"wip_limit,omitempty"`
	Category              Category `json:"category"`
	RequiresInvoiceRaised bool     `json:"requires_invoice_raised"`
	RequiresAssignee      bool     `json:"requires_assignee"`
}

// IsTerminal returns true if the step ends the lifecycle
func (s *Step) IsTerminal() bool {
	return s.Kind == StepKindTerminal
}

// ReportCategory returns the step's bucket, falling back to its kind's default
func (s *Step) ReportCategory() Category {
	if s.Category != "" {
		return s.Category
	}
	return DefaultCategory(s.Kind)
}

// Transition is a directed, role-gated edge between two steps
type Transition struct {
	ID           int64    `json:"id"`
	DefinitionID int64    `json:"definition_id"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	FromStepID   int64    `json:"from_step_id"`
	ToStepID     int64    `json:"to_step_id"`
	FromStepKey  string   `json:"from_step_key"`
	ToStepKey    string   `json:"to_step_key"`
	AllowedRoles []string `json:"allowed_roles"`
}

// Permits returns true if any of the roles may execute the transition
func (t *Transition) Permits(roles []string) bool {
	for _, allowed := range t.AllowedRoles {
		for _, r := range roles {
			if r == allowed {
				return true
			}
		}
	}
	return false
}

// JoinRoles encodes a role set for a single TEXT column
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

// SplitRoles decodes a role set written by JoinRoles
func SplitRoles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}
