package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
)

// MetricsRepository implements port.MetricsRepository
type MetricsRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(db *sqlite.DB, logger *zap.Logger) port.MetricsRepository {
	return &MetricsRepository{db: db, logger: logger}
}

// TallyByStep groups the requests inside scope by their current step.
// Money columns are summed as integer cents.
func (r *MetricsRepository) TallyByStep(ctx context.Context, scope port.Scope) ([]port.StepTally, error) {
	query := `
		SELECT s.id, s.key, s.kind, s.category,
			COUNT(r.id),
			COALESCE(SUM(CASE WHEN r.invoice_raised = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN r.invoice_paid = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN r.invoice_paid = 1 THEN r.invoice_amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN r.invoice_raised = 1 AND r.invoice_paid = 0 THEN r.invoice_amount_cents ELSE 0 END), 0)
		FROM service_requests r
		JOIN workflow_steps s ON s.id = r.current_step_id
	`
	where, args := scopeClause(scope, "r.")
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` GROUP BY s.id, s.key, s.kind, s.category ORDER BY s.id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to tally requests", zap.Error(err))
		return nil, fmt.Errorf("failed to tally requests: %w", err)
	}
	defer rows.Close()

	var tallies []port.StepTally
	for rows.Next() {
		var (
			t        port.StepTally
			kind     string
			category string
		)
		if err := rows.Scan(&t.StepID, &t.StepKey, &kind, &category,
			&t.Requests, &t.InvoiceRaised, &t.InvoicePaid, &t.PaidCents, &t.ReceivableCents); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		t.Kind = entity.StepKind(kind)
		t.Category = entity.Category(category)
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

// Verify interface compliance
var _ port.MetricsRepository = (*MetricsRepository)(nil)
