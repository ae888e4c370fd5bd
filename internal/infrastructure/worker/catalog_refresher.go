package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
)

// VersionedCatalog is the part of the graph catalog the refresher drives
type VersionedCatalog interface {
	Cached() map[int64]int64
	Invalidate(definitionID int64)
}

// CatalogRefresher evicts cached graphs whose definition changed in the
// store, so edits made by another process are picked up.
type CatalogRefresher struct {
	repo     port.DefinitionRepository
	catalog  VersionedCatalog
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCatalogRefresher creates a refresher polling at interval
func NewCatalogRefresher(repo port.DefinitionRepository, catalog VersionedCatalog, interval time.Duration, logger *zap.Logger) *CatalogRefresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CatalogRefresher{
		repo:     repo,
		catalog:  catalog,
		interval: interval,
		logger:   logger,
	}
}

func (r *CatalogRefresher) Name() string { return "catalog-refresher" }

func (r *CatalogRefresher) Start(ctx context.Context) error {
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

func (r *CatalogRefresher) Stop() error {
	if r.stop != nil {
		close(r.stop)
		r.wg.Wait()
		r.stop = nil
	}
	return nil
}

func (r *CatalogRefresher) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warn("Catalog refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh compares cached versions with the store once and returns the
// number of evicted graphs. Definitions missing from the store are evicted too.
func (r *CatalogRefresher) Refresh(ctx context.Context) (int, error) {
	cached := r.catalog.Cached()
	if len(cached) == 0 {
		return 0, nil
	}

	current, err := r.repo.Versions(ctx)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for id, version := range cached {
		if latest, ok := current[id]; ok && latest == version {
			continue
		}
		r.catalog.Invalidate(id)
		evicted++
		r.logger.Debug("Evicted stale workflow graph", zap.Int64("definition_id", id), zap.Int64("cached_version", version))
	}
	return evicted, nil
}
