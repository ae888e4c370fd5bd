package workflow

import "github.com/garyjia/practice-workflow/internal/domain/entity"

// StandardDefinition returns the shared definition new tenants start from:
// pending -> invoice_raised -> assigned -> processing -> completed, with a
// query loop off processing and cancellation from the early steps.
func StandardDefinition() *entity.WorkflowDefinition {
	wip := 5
	staff := []string{entity.RoleAdmin, entity.RoleManager}
	workers := []string{entity.RoleAdmin, entity.RoleManager, entity.RoleAccountant}

	return &entity.WorkflowDefinition{
		Name:     "Standard service request",
		IsActive: true,
		Steps: []*entity.Step{
			{Key: "pending", Name: "Pending", Kind: entity.StepKindStart, Position: 1, Color: "#9CA3AF"},
			{Key: "invoice_raised", Name: "Invoice raised", Kind: entity.StepKindNormal, Position: 2, Color: "#F59E0B"},
			{Key: "assigned", Name: "Assigned", Kind: entity.StepKindNormal, Position: 3, Color: "#3B82F6", RequiresInvoiceRaised: true},
			{Key: "processing", Name: "Processing", Kind: entity.StepKindNormal, Position: 4, Color: "#6366F1", WIPLimit: &wip, RequiresAssignee: true},
			{Key: "awaiting_client", Name: "Awaiting client", Kind: entity.StepKindQuery, Position: 5, Color: "#EC4899", RequiresAssignee: true},
			{Key: "review", Name: "Review", Kind: entity.StepKindNormal, Position: 6, Color: "#8B5CF6", Category: entity.CategoryUnderReview, RequiresAssignee: true},
			{Key: "completed", Name: "Completed", Kind: entity.StepKindTerminal, Position: 7, Color: "#10B981"},
			{Key: "cancelled", Name: "Cancelled", Kind: entity.StepKindTerminal, Position: 8, Color: "#EF4444"},
		},
		Transitions: []*entity.Transition{
			{Key: "raise_invoice", Name: "Raise invoice", FromStepKey: "pending", ToStepKey: "invoice_raised", AllowedRoles: staff},
			{Key: "cancel", Name: "Cancel", FromStepKey: "pending", ToStepKey: "cancelled", AllowedRoles: staff},
			{Key: "assign", Name: "Assign", FromStepKey: "invoice_raised", ToStepKey: "assigned", AllowedRoles: []string{entity.RoleAdmin}},
			{Key: "cancel", Name: "Cancel", FromStepKey: "invoice_raised", ToStepKey: "cancelled", AllowedRoles: staff},
			{Key: "start", Name: "Start work", FromStepKey: "assigned", ToStepKey: "processing", AllowedRoles: workers},
			{Key: "query_client", Name: "Query client", FromStepKey: "processing", ToStepKey: "awaiting_client", AllowedRoles: workers},
			{Key: "client_replied", Name: "Client replied", FromStepKey: "awaiting_client", ToStepKey: "processing", AllowedRoles: append([]string{entity.RoleClient}, workers...)},
			{Key: "submit_review", Name: "Submit for review", FromStepKey: "processing", ToStepKey: "review", AllowedRoles: workers},
			{Key: "rework", Name: "Send back", FromStepKey: "review", ToStepKey: "processing", AllowedRoles: staff},
			{Key: "complete", Name: "Complete", FromStepKey: "review", ToStepKey: "completed", AllowedRoles: staff},
		},
	}
}
