package config

import (
	"github.com/garyjia/practice-workflow/internal/container"
)

// ToContainerConfig converts the file-based Config into the container's
// configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Workflow: container.WorkflowConfig{
			AssignmentRetryAttempts: c.Workflow.AssignmentRetryAttempts,
			StatusAliases:           c.Workflow.StatusAliases,
		},
		Events: container.EventsConfig{
			Topic:      c.Events.Topic,
			BufferSize: c.Events.BufferSize,
		},
		Worker: container.WorkerConfig{
			CatalogRefreshInterval: c.Workflow.CatalogRefreshInterval,
			LogEvents:              true,
		},
	}
}
