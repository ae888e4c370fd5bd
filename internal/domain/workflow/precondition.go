package workflow

import "github.com/garyjia/practice-workflow/internal/domain/entity"

// CheckFunc inspects a request about to enter a step
type CheckFunc func(req *entity.Request) error

// Precondition is a named business rule attached to destination steps
type Precondition struct {
	Name    string
	Applies func(dest *entity.Step) bool
	Check   CheckFunc
}

// Preconditions is an ordered list evaluated after role and step checks
type Preconditions []Precondition

// DefaultPreconditions returns the rules every engine enforces
func DefaultPreconditions() Preconditions {
	return Preconditions{
		{
			Name: "invoice_raised",
			Applies: func(dest *entity.Step) bool {
				return dest.RequiresInvoiceRaised
			},
			Check: func(req *entity.Request) error {
				if !req.InvoiceRaised {
					return Reject(KindInvoicePrerequisiteNotMet, "invoice_raised",
						"request %d must have its invoice raised first", req.ID)
				}
				return nil
			},
		},
	}
}

// ForKind returns a copy with a rule applied to every step of the given kind
func (p Preconditions) ForKind(kind entity.StepKind, name string, check CheckFunc) Preconditions {
	return p.With(Precondition{
		Name: name,
		Applies: func(dest *entity.Step) bool {
			return dest.Kind == kind
		},
		Check: check,
	})
}

// With returns a copy with rule appended
func (p Preconditions) With(rule Precondition) Preconditions {
	out := make(Preconditions, 0, len(p)+1)
	out = append(out, p...)
	return append(out, rule)
}

// Applicable returns the names of the rules guarding dest, in evaluation order
func (p Preconditions) Applicable(dest *entity.Step) []string {
	var names []string
	for _, rule := range p {
		if rule.Applies(dest) {
			names = append(names, rule.Name)
		}
	}
	return names
}

// Evaluate runs every applicable rule and returns the first failure
func (p Preconditions) Evaluate(dest *entity.Step, req *entity.Request) error {
	for _, rule := range p {
		if !rule.Applies(dest) {
			continue
		}
		if err := rule.Check(req); err != nil {
			return err
		}
	}
	return nil
}
