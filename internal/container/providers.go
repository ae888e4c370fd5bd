package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/practice-workflow/migrations"
	"github.com/garyjia/practice-workflow/pkg/database"
)

// DatabaseBundle holds database-related components
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the SQLite file, applies the embedded migrations and
// wraps the handle in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	raw, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(raw, logger).RunMigrations(migrations.FS); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Raw:            raw,
		TransactionMgr: sqlite.NewDB(raw, logger),
	}, nil
}

// ProvideRepositories creates every repository over one transaction manager
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Tenant:     repository.NewTenantRepository(db, logger),
		User:       repository.NewUserRepository(db, logger),
		Definition: repository.NewDefinitionRepository(db, logger),
		Request:    repository.NewRequestRepository(db, logger),
		History:    repository.NewHistoryRepository(db, logger),
		Metrics:    repository.NewMetricsRepository(db, logger),
	}, nil
}

var _ port.TransactionManager = (*sqlite.DB)(nil)
