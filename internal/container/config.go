// Package container wires the workflow service together and owns the
// lifecycle of everything it builds.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container
type Config struct {
	Database DatabaseConfig
	Workflow WorkflowConfig
	Events   EventsConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout bounds how long a writer waits for the lock
	BusyTimeout time.Duration
}

// WorkflowConfig tunes the engine and assignment manager
type WorkflowConfig struct {
	AssignmentRetryAttempts int

	// StatusAliases maps legacy status labels to step keys
	StatusAliases map[string]string
}

// EventsConfig configures the outbound event bus
type EventsConfig struct {
	Topic      string
	BufferSize int64
}

// WorkerConfig configures background workers
type WorkerConfig struct {
	CatalogRefreshInterval time.Duration

	// LogEvents subscribes a worker that logs every bus event
	LogEvents bool
}

// DefaultConfig returns a configuration suitable for local use
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/workflow.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Workflow: WorkflowConfig{
			AssignmentRetryAttempts: 3,
		},
		Events: EventsConfig{
			Topic:      "service_requests.events",
			BufferSize: 256,
		},
		Worker: WorkerConfig{
			CatalogRefreshInterval: 30 * time.Second,
			LogEvents:              true,
		},
	}
}

// Validate checks the configuration before anything is opened
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database max open connections must be positive")
	}
	if c.Workflow.AssignmentRetryAttempts < 1 {
		return fmt.Errorf("assignment retry attempts must be at least 1")
	}
	if c.Worker.CatalogRefreshInterval <= 0 {
		return fmt.Errorf("catalog refresh interval must be positive")
	}
	return nil
}
