package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// Builder collects the steps and transitions of one definition and
// produces an immutable Graph
type Builder struct {
	definition  entity.WorkflowDefinition
	steps       []entity.Step
	transitions []entity.Transition
}

// StepConfiguration adds transitions leaving a single step
type StepConfiguration struct {
	builder *Builder
	fromKey string
}

// NewBuilder creates a builder for the given definition header
func NewBuilder(def entity.WorkflowDefinition) *Builder {
	def.Steps = nil
	def.Transitions = nil
	return &Builder{definition: def}
}

// FromDefinition builds a graph from a fully loaded definition
func FromDefinition(def *entity.WorkflowDefinition) (*Graph, error) {
	b := NewBuilder(*def)
	for _, s := range def.Steps {
		b.AddStep(*s)
	}
	for _, t := range def.Transitions {
		b.AddTransition(*t)
	}
	return b.Build()
}

// AddStep registers a step
func (b *Builder) AddStep(step entity.Step) *Builder {
	b.steps = append(b.steps, step)
	return b
}

// AddTransition registers an edge identified by step ids or step keys
func (b *Builder) AddTransition(t entity.Transition) *Builder {
	b.transitions = append(b.transitions, t)
	return b
}

// Configure returns a configuration for edges leaving the step with the given key
func (b *Builder) Configure(stepKey string) *StepConfiguration {
	return &StepConfiguration{builder: b, fromKey: stepKey}
}

// Permit adds an edge to toStepKey executable by any of roles
func (c *StepConfiguration) Permit(key, toStepKey string, roles ...string) *StepConfiguration {
	c.builder.AddTransition(entity.Transition{
		Key:          key,
		Name:         key,
		FromStepKey:  c.fromKey,
		ToStepKey:    toStepKey,
		AllowedRoles: roles,
	})
	return c
}

// Build validates the collected graph and returns an immutable copy of it.
// Structural violations fail the build; duplicate edges and unreachable
// steps are recorded as anomalies on the returned graph.
func (b *Builder) Build() (*Graph, error) {
	var problems []string
	field := ""
	fail := func(f, format string, args ...interface{}) {
		if field == "" {
			field = f
		}
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := &Graph{
		definition: b.definition,
		byKey:      make(map[string]*entity.Step, len(b.steps)),
		byID:       make(map[int64]*entity.Step, len(b.steps)),
		outgoing:   make(map[string][]*entity.Transition),
	}

	if len(b.steps) == 0 {
		fail("steps", "definition has no steps")
	}

	terminals := 0
	for i := range b.steps {
		s := copyStep(b.steps[i])
		if s.DefinitionID != 0 && b.definition.ID != 0 && s.DefinitionID != b.definition.ID {
			fail("steps", "step %q belongs to definition %d", s.Key, s.DefinitionID)
			continue
		}
		if s.Key == "" {
			fail("steps.key", "step at position %d has no key", s.Position)
			continue
		}
		if _, dup := g.byKey[s.Key]; dup {
			fail("steps.key", "duplicate step key %q", s.Key)
			continue
		}
		if !s.Kind.IsValid() {
			fail("steps.kind", "step %q has unknown kind %q", s.Key, s.Kind)
		}
		if s.WIPLimit != nil && *s.WIPLimit <= 0 {
			fail("steps.wip_limit", "step %q has non-positive wip limit %d", s.Key, *s.WIPLimit)
		}
		if s.Category != "" && !s.Category.IsValid() {
			fail("steps.category", "step %q has unknown category %q", s.Key, s.Category)
		}

		switch s.Kind {
		case entity.StepKindStart:
			if g.start != nil {
				fail("steps.kind", "more than one start step (%q, %q)", g.start.Key, s.Key)
			} else {
				g.start = s
			}
		case entity.StepKindTerminal:
			terminals++
		}

		g.byKey[s.Key] = s
		if s.ID != 0 {
			g.byID[s.ID] = s
		}
		g.steps = append(g.steps, s)
	}

	if len(b.steps) > 0 && g.start == nil {
		fail("steps.kind", "definition has no start step")
	}
	if len(b.steps) > 0 && terminals == 0 {
		fail("steps.kind", "definition has no terminal step")
	}

	for i := range b.transitions {
		t := copyTransition(b.transitions[i])
		if t.DefinitionID != 0 && b.definition.ID != 0 && t.DefinitionID != b.definition.ID {
			fail("transitions", "transition %q belongs to definition %d", t.Key, t.DefinitionID)
			continue
		}
		from, ok := g.resolve(t.FromStepID, t.FromStepKey)
		if !ok {
			fail("transitions.from_step", "transition %q leaves a step outside this definition", t.Key)
			continue
		}
		to, ok := g.resolve(t.ToStepID, t.ToStepKey)
		if !ok {
			fail("transitions.to_step", "transition %q enters a step outside this definition", t.Key)
			continue
		}
		t.FromStepID, t.FromStepKey = from.ID, from.Key
		t.ToStepID, t.ToStepKey = to.ID, to.Key

		if t.Key == "" {
			fail("transitions.key", "transition %s -> %s has no key", from.Key, to.Key)
			continue
		}
		if from.Key == to.Key {
			fail("transitions.to_step", "transition %q loops on step %q", t.Key, from.Key)
			continue
		}
		if len(t.AllowedRoles) == 0 {
			fail("transitions.allowed_roles", "transition %q permits no roles", t.Key)
			continue
		}
		if from.IsTerminal() {
			fail("transitions.from_step", "transition %q leaves terminal step %q", t.Key, from.Key)
			continue
		}

		g.outgoing[from.Key] = append(g.outgoing[from.Key], t)
	}

	if len(problems) > 0 {
		return nil, Reject(KindInvalidDefinition, field, "%s", strings.Join(problems, "; "))
	}

	sort.SliceStable(g.steps, func(i, j int) bool {
		return g.steps[i].Position < g.steps[j].Position
	})
	for key := range g.outgoing {
		edges := g.outgoing[key]
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].ID < edges[j].ID
		})
	}

	g.anomalies = g.findAnomalies()
	return g, nil
}

func (g *Graph) resolve(id int64, key string) (*entity.Step, bool) {
	if key != "" {
		s, ok := g.byKey[key]
		if ok && id != 0 && s.ID != id {
			return nil, false
		}
		return s, ok
	}
	if id == 0 {
		return nil, false
	}
	s, ok := g.byID[id]
	return s, ok
}

func (g *Graph) findAnomalies() []Anomaly {
	var found []Anomaly

	for _, s := range g.steps {
		pairs := make(map[string]bool)
		keys := make(map[string]bool)
		for _, t := range g.outgoing[s.Key] {
			if pairs[t.ToStepKey] {
				found = append(found, Anomaly{
					Type:          AnomalyDuplicateEdge,
					StepKey:       s.Key,
					TransitionKey: t.Key,
					Detail:        fmt.Sprintf("more than one transition from %q to %q", s.Key, t.ToStepKey),
				})
			}
			if keys[t.Key] {
				found = append(found, Anomaly{
					Type:          AnomalyDuplicateKey,
					StepKey:       s.Key,
					TransitionKey: t.Key,
					Detail:        fmt.Sprintf("transition key %q repeats on step %q; lowest id wins", t.Key, s.Key),
				})
			}
			pairs[t.ToStepKey] = true
			keys[t.Key] = true
		}
	}

	reached := map[string]bool{g.start.Key: true}
	queue := []string{g.start.Key}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, t := range g.outgoing[key] {
			if !reached[t.ToStepKey] {
				reached[t.ToStepKey] = true
				queue = append(queue, t.ToStepKey)
			}
		}
	}
	for _, s := range g.steps {
		if !reached[s.Key] {
			found = append(found, Anomaly{
				Type:    AnomalyOrphanedStep,
				StepKey: s.Key,
				Detail:  fmt.Sprintf("step %q is unreachable from %q", s.Key, g.start.Key),
			})
		}
	}

	return found
}

func copyStep(s entity.Step) *entity.Step {
	if s.WIPLimit != nil {
		limit := *s.WIPLimit
		s.WIPLimit = &limit
	}
	return &s
}

func copyTransition(t entity.Transition) *entity.Transition {
	t.AllowedRoles = append([]string(nil), t.AllowedRoles...)
	return &t
}
