package workflow

import (
	"strings"

	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// StatusMapping resolves legacy status labels to step keys.
// The engine writes labels as the step key, so an unaliased label
// resolves to the step of the same key.
type StatusMapping struct {
	aliases map[string]string
}

// NewStatusMapping creates a mapping from alias label to step key
func NewStatusMapping(aliases map[string]string) *StatusMapping {
	m := &StatusMapping{aliases: make(map[string]string, len(aliases))}
	for label, key := range aliases {
		m.aliases[NormalizeLabel(label)] = key
	}
	return m
}

// Resolve returns the step in g that a legacy label designates
func (m *StatusMapping) Resolve(g *Graph, label string) (*entity.Step, error) {
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return nil, Reject(KindNotFound, "status", "empty status label")
	}
	key := normalized
	if alias, ok := m.aliases[normalized]; ok {
		key = alias
	}
	step, ok := g.StepByKey(key)
	if !ok {
		return nil, Reject(KindNotFound, "status", "status %q has no step in definition %d", label, g.DefinitionID())
	}
	return step, nil
}

// Label returns the status label the engine writes for a step
func (m *StatusMapping) Label(step *entity.Step) string {
	return step.Key
}

// NormalizeLabel lowercases a label and folds spaces and hyphens to underscores
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(label)
}
