package entity

// Role names carried in an actor's role set
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleAccountant = "accountant"
	RoleClient     = "client"
)

// StepKind classifies a step's position in the lifecycle graph
type StepKind string

const (
	StepKindStart    StepKind = "start"
	StepKindNormal   StepKind = "normal"
	StepKindTerminal StepKind = "terminal"
	StepKindQuery    StepKind = "query"
)

// IsValid returns true if the kind is one of the defined constants
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindStart, StepKindNormal, StepKindTerminal, StepKindQuery:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind
func (k StepKind) String() string {
	return string(k)
}

// Category is the dashboard bucket a step rolls up into
type Category string

const (
	CategoryPending      Category = "pending"
	CategoryActive       Category = "active"
	CategoryQueryPending Category = "query_pending"
	CategoryUnderReview  Category = "under_review"
	CategoryCompleted    Category = "completed"
	CategoryDraft        Category = "draft"
)

// IsValid returns true if the category is one of the defined constants
func (c Category) IsValid() bool {
	switch c {
	case CategoryPending, CategoryActive, CategoryQueryPending,
		CategoryUnderReview, CategoryCompleted, CategoryDraft:
		return true
	default:
		return false
	}
}

// DefaultCategory maps a step kind to the bucket it reports under
// when the step does not override it.
func DefaultCategory(kind StepKind) Category {
	switch kind {
	case StepKindStart:
		return CategoryPending
	case StepKindQuery:
		return CategoryQueryPending
	case StepKindTerminal:
		return CategoryCompleted
	default:
		return CategoryActive
	}
}
