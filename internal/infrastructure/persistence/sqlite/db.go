package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/pkg/database"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// retryBackoff is the base pause between contended attempts
const retryBackoff = 15 * time.Millisecond

// DB implements port.TransactionManager over a pooled connection.
// The connection must be opened with _txlock=immediate so every
// transaction takes the write lock when it begins.
type DB struct {
	*database.DB
	logger *zap.Logger
}

// NewDB wraps an open connection pool
func NewDB(pool *database.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     pool,
		logger: logger,
	}
}

// WithTransaction implements port.TransactionManager. A context that
// already carries a transaction joins it.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	err := db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
	if err != nil && IsContention(err) {
		db.logger.Debug("Transaction hit a locked database", zap.Error(err))
	}
	return err
}

// WithRetry implements port.TransactionManager
func (db *DB) WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		err := db.WithTransaction(ctx, fn)
		if err == nil || !IsContention(err) {
			return err
		}

		db.logger.Warn("Write contention, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	return fmt.Errorf("%w after %d attempts", port.ErrContention, attempts)
}

// IsContention reports whether err is SQLite refusing a lock
func IsContention(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// Executor returns the transaction carried by ctx, or the pool
func (db *DB) Executor(ctx context.Context) Executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB.DB
}

// InTransaction reports whether ctx carries a transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
