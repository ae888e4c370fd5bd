package workflow

import (
	"errors"
	"testing"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allRoles = []string{
	entity.RoleSuperAdmin,
	entity.RoleAdmin,
	entity.RoleManager,
	entity.RoleAccountant,
	entity.RoleClient,
}

func TestValidator_RoleGatingIsExhaustive(t *testing.T) {
	g := practiceGraph(t)
	v := NewValidator(DefaultPreconditions())

	for _, step := range g.Steps() {
		for _, tr := range g.Outgoing(step.Key) {
			req := &entity.Request{ID: 1, CurrentStepID: tr.FromStepID, InvoiceRaised: true}
			for _, role := range allRoles {
				err := v.Validate(g, tr, []string{role}, req)
				if tr.Permits([]string{role}) {
					assert.NoError(t, err, "%s should be allowed to %s", role, tr.Key)
				} else {
					assert.True(t, errors.Is(err, ErrForbidden), "%s should be refused %s", role, tr.Key)
				}
			}
		}
	}
}

func TestValidator_Validate(t *testing.T) {
	g := practiceGraph(t)
	v := NewValidator(DefaultPreconditions())

	tests := []struct {
		name     string
		key      string
		from     string
		roles    []string
		req      entity.Request
		wantKind Kind
	}{
		{
			name:  "allowed",
			key:   "raise_invoice",
			from:  "pending",
			roles: []string{"admin"},
			req:   entity.Request{ID: 1, CurrentStepID: 10},
		},
		{
			name:     "role not permitted",
			key:      "assign",
			from:     "invoice_raised",
			roles:    []string{"manager", "client"},
			req:      entity.Request{ID: 1, CurrentStepID: 11, InvoiceRaised: true},
			wantKind: KindForbidden,
		},
		{
			name:     "request has moved on",
			key:      "raise_invoice",
			from:     "pending",
			roles:    []string{"admin"},
			req:      entity.Request{ID: 1, CurrentStepID: 11},
			wantKind: KindStaleState,
		},
		{
			name:     "invoice not raised",
			key:      "assign",
			from:     "invoice_raised",
			roles:    []string{"admin"},
			req:      entity.Request{ID: 1, CurrentStepID: 11},
			wantKind: KindInvoicePrerequisiteNotMet,
		},
		{
			name:  "invoice raised",
			key:   "assign",
			from:  "invoice_raised",
			roles: []string{"admin"},
			req:   entity.Request{ID: 1, CurrentStepID: 11, InvoiceRaised: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := g.Lookup(tt.from, tt.key)
			require.NoError(t, err)

			err = v.Validate(g, tr, tt.roles, &tt.req)

			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			rej, ok := AsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			assert.Equal(t, tt.wantKind, rej.Kind)
			assert.NotEmpty(t, rej.Field)
			assert.NotEmpty(t, rej.Message())
		})
	}
}

func TestPreconditions_ForKind(t *testing.T) {
	g := practiceGraph(t)
	rules := DefaultPreconditions().ForKind(entity.StepKindTerminal, "invoice_paid", func(req *entity.Request) error {
		if !req.InvoicePaid {
			return Reject(KindInvoicePrerequisiteNotMet, "invoice_paid", "request %d is unpaid", req.ID)
		}
		return nil
	})
	v := NewValidator(rules)

	completed, _ := g.StepByKey("completed")
	assert.Equal(t, []string{"invoice_paid"}, rules.Applicable(completed))
	assert.Len(t, DefaultPreconditions(), 1, "ForKind must not modify the receiver")

	tr, err := g.Lookup("processing", "complete")
	require.NoError(t, err)

	err = v.Validate(g, tr, []string{"accountant"}, &entity.Request{ID: 3, CurrentStepID: 13})
	assert.True(t, errors.Is(err, ErrInvoicePrerequisiteNotMet))

	err = v.Validate(g, tr, []string{"accountant"}, &entity.Request{ID: 3, CurrentStepID: 13, InvoiceRaised: true, InvoicePaid: true})
	assert.NoError(t, err)
}
