package port

import (
	"context"

	"github.com/garyjia/practice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

// EventPublisher forwards committed domain events to external subscribers
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// GraphCatalog resolves the immutable graph of a definition
type GraphCatalog interface {
	Graph(ctx context.Context, definitionID int64) (*domainwf.Graph, error)
	Invalidate(definitionID int64)
}
