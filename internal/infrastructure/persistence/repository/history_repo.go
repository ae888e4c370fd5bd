package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a row to a request's audit trail
func (r *HistoryRepository) Create(ctx context.Context, h *entity.RequestTransition) error {
	query := `
		INSERT INTO request_transitions (
			request_id, transition_id, from_step_key, to_step_key, actor_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		h.RequestID,
		nullInt64(h.TransitionID),
		h.FromStepKey,
		h.ToStepKey,
		h.ActorID,
		h.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Int64("request_id", h.RequestID), zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	h.ID = id
	return nil
}

// ListByRequest returns a request's audit trail, oldest first
func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.RequestTransition, error) {
	query := `
		SELECT id, request_id, transition_id, from_step_key, to_step_key, actor_id, created_at
		FROM request_transitions
		WHERE request_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	records := []*entity.RequestTransition{}
	for rows.Next() {
		var (
			record       entity.RequestTransition
			transitionID sql.NullInt64
		)
		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&transitionID,
			&record.FromStepKey,
			&record.ToStepKey,
			&record.ActorID,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		record.TransitionID = int64Ptr(transitionID)
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
