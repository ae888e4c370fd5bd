package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/practice-workflow/internal/application/port"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

type graphSet map[int64]*domainwf.Graph

// Catalog caches immutable definition graphs. Readers load the current map
// without locking; writers publish a fresh copy.
type Catalog struct {
	repo   port.DefinitionRepository
	logger port.Logger

	graphs atomic.Pointer[graphSet]
	mu     sync.Mutex
}

// NewCatalog creates an empty catalog backed by repo
func NewCatalog(repo port.DefinitionRepository, logger port.Logger) *Catalog {
	if logger == nil {
		logger = port.NopLogger{}
	}
	c := &Catalog{repo: repo, logger: logger}
	empty := graphSet{}
	c.graphs.Store(&empty)
	return c
}

// Graph returns the graph for a definition, loading it on first use
func (c *Catalog) Graph(ctx context.Context, definitionID int64) (*domainwf.Graph, error) {
	if g, ok := (*c.graphs.Load())[definitionID]; ok {
		return g, nil
	}

	def, err := c.repo.GetByID(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %d: %w", definitionID, err)
	}
	if def == nil {
		return nil, domainwf.Reject(domainwf.KindNotFound, "definition_id", "definition %d not found", definitionID)
	}

	g, err := domainwf.FromDefinition(def)
	if err != nil {
		return nil, err
	}
	for _, a := range g.Anomalies() {
		c.logger.Warn("Workflow definition anomaly",
			"definition_id", definitionID,
			"anomaly", a.Type,
			"step_key", a.StepKey,
			"transition_key", a.TransitionKey,
			"detail", a.Detail,
		)
	}

	c.swap(func(next graphSet) { next[definitionID] = g })
	return g, nil
}

// Invalidate drops a definition so the next read rebuilds it
func (c *Catalog) Invalidate(definitionID int64) {
	c.swap(func(next graphSet) { delete(next, definitionID) })
}

// Cached returns the id and version of every loaded graph
func (c *Catalog) Cached() map[int64]int64 {
	current := *c.graphs.Load()
	out := make(map[int64]int64, len(current))
	for id, g := range current {
		out[id] = g.Definition().Version
	}
	return out
}

func (c *Catalog) swap(mutate func(next graphSet)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.graphs.Load()
	next := make(graphSet, len(current)+1)
	for id, g := range current {
		next[id] = g
	}
	mutate(next)
	c.graphs.Store(&next)
}

var _ port.GraphCatalog = (*Catalog)(nil)
