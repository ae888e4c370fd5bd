package database

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator applies NNN_name.up.sql files from an fs.FS with golang-migrate.
// Applied versions live in schema_migrations; a failed migration leaves the
// version dirty and later runs refuse to continue until it is forced.
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// RunMigrations applies every pending up migration in fsys
func (m *Migrator) RunMigrations(fsys fs.FS) error {
	mg, err := m.open(fsys)
	if err != nil {
		return err
	}

	err = mg.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Debug("Database schema is current")
		return nil
	case err != nil:
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("database is dirty at version %d, repair it and force the version: %w", dirty.Version, err)
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, err := mg.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	m.logger.Info("Database migrations completed", zap.Uint("version", version))
	return nil
}

// Version reports the applied schema version; zero means nothing is applied
func (m *Migrator) Version(fsys fs.FS) (uint, bool, error) {
	mg, err := m.open(fsys)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// open builds a migrate instance over the shared pool. It is never closed:
// the sqlite3 driver's Close would close the pool the caller still owns.
func (m *Migrator) open(fsys fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(m.db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	mg.Log = migrateLogger{logger: m.logger}
	return mg, nil
}

// migrateLogger routes golang-migrate progress lines to zap at debug level
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Sugar().Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
