package workflow

import "github.com/garyjia/practice-workflow/internal/domain/entity"

// AnomalyType names a data-integrity symptom found in a loaded graph
type AnomalyType string

const (
	AnomalyDuplicateEdge AnomalyType = "duplicate_edge"
	AnomalyDuplicateKey  AnomalyType = "duplicate_key"
	AnomalyOrphanedStep  AnomalyType = "orphaned_step"
)

// Anomaly describes a tolerated defect in seed data
type Anomaly struct {
	Type          AnomalyType
	StepKey       string
	TransitionKey string
	Detail        string
}

// Graph is the immutable adjacency structure of one workflow definition.
// Values returned by its accessors are shared and must not be modified.
type Graph struct {
	definition entity.WorkflowDefinition
	steps      []*entity.Step
	byKey      map[string]*entity.Step
	byID       map[int64]*entity.Step
	outgoing   map[string][]*entity.Transition
	start      *entity.Step
	anomalies  []Anomaly
}

// Definition returns the definition header the graph was built from
func (g *Graph) Definition() entity.WorkflowDefinition {
	return g.definition
}

// DefinitionID returns the id of the underlying definition
func (g *Graph) DefinitionID() int64 {
	return g.definition.ID
}

// Start returns the single start step
func (g *Graph) Start() *entity.Step {
	return g.start
}

// Steps returns all steps ordered by position
func (g *Graph) Steps() []*entity.Step {
	return append([]*entity.Step(nil), g.steps...)
}

// Step returns the step with the given id
func (g *Graph) Step(id int64) (*entity.Step, bool) {
	s, ok := g.byID[id]
	return s, ok
}

// StepByKey returns the step with the given key
func (g *Graph) StepByKey(key string) (*entity.Step, bool) {
	s, ok := g.byKey[key]
	return s, ok
}

// Outgoing returns the transitions leaving a step, ordered by id
func (g *Graph) Outgoing(stepKey string) []*entity.Transition {
	return append([]*entity.Transition(nil), g.outgoing[stepKey]...)
}

// Lookup finds the transition named key leaving the step fromKey
func (g *Graph) Lookup(fromKey, key string) (*entity.Transition, error) {
	edges := g.outgoing[fromKey]
	if len(edges) == 0 {
		return nil, Reject(KindNoSuchTransition, "transition_key", "step %q has no outgoing transitions", fromKey)
	}
	for _, t := range edges {
		if t.Key == key {
			return t, nil
		}
	}
	return nil, Reject(KindUnknownTransition, "transition_key", "no transition %q from step %q", key, fromKey)
}

// Anomalies returns the data-integrity symptoms found while building
func (g *Graph) Anomalies() []Anomaly {
	return append([]Anomaly(nil), g.anomalies...)
}
