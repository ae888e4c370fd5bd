package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
)

// DefaultListLimit caps a listing when the caller gives no limit
const DefaultListLimit = 50

const requestColumns = `
	id, tenant_id, definition_id, requester_id, assignee_id, current_step_id,
	status_label, title, priority, invoice_raised, invoice_paid, invoice_amount_cents,
	internal_notes, created_at, updated_at, completed_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a request and fills its ID
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	query := `
		INSERT INTO service_requests (
			tenant_id, definition_id, requester_id, assignee_id, current_step_id,
			status_label, title, priority, invoice_raised, invoice_paid,
			invoice_amount_cents, internal_notes, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.TenantID,
		req.DefinitionID,
		req.RequesterID,
		nullInt64(req.AssigneeID),
		req.CurrentStepID,
		req.StatusLabel,
		req.Title,
		req.Priority,
		req.InvoiceRaised,
		req.InvoicePaid,
		req.InvoiceAmountCents,
		req.InternalNotes,
		req.CreatedAt,
		req.UpdatedAt,
		nullTime(req.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Int64("tenant_id", req.TenantID), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE id = ?`

	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// List returns requests inside scope, newest first
func (r *RequestRepository) List(ctx context.Context, scope port.Scope, filter port.ListFilter) ([]*entity.Request, error) {
	where, args := scopeClause(scope, "")
	if filter.StepKey != "" {
		where = append(where, "current_step_id IN (SELECT id FROM workflow_steps WHERE key = ?)")
		args = append(args, filter.StepKey)
	}
	if filter.AssigneeID != nil {
		where = append(where, "assignee_id = ?")
		args = append(args, *filter.AssigneeID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + requestColumns + ` FROM service_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []*entity.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// MoveStep writes the lifecycle fields only while the row is still at fromStepID
func (r *RequestRepository) MoveStep(ctx context.Context, req *entity.Request, fromStepID int64) (bool, error) {
	query := `
		UPDATE service_requests
		SET current_step_id = ?, status_label = ?, assignee_id = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND current_step_id = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.CurrentStepID,
		req.StatusLabel,
		nullInt64(req.AssigneeID),
		req.UpdatedAt,
		nullTime(req.CompletedAt),
		req.ID,
		fromStepID,
	)
	if err != nil {
		r.logger.Error("Failed to move request", zap.Int64("id", req.ID), zap.Error(err))
		return false, fmt.Errorf("failed to move request: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateAssignee sets or clears the single holder of a request
func (r *RequestRepository) UpdateAssignee(ctx context.Context, id int64, assigneeID *int64) error {
	query := `UPDATE service_requests SET assignee_id = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, id, "assignee", query, nullInt64(assigneeID), time.Now().UTC(), id)
}

// UpdateInvoice writes the invoicing fields; lifecycle columns are untouched
func (r *RequestRepository) UpdateInvoice(ctx context.Context, id int64, raised, paid bool, amountCents int64) error {
	query := `
		UPDATE service_requests
		SET invoice_raised = ?, invoice_paid = ?, invoice_amount_cents = ?, updated_at = ?
		WHERE id = ?
	`
	return r.update(ctx, id, "invoice", query, raised, paid, amountCents, time.Now().UTC(), id)
}

// UpdateNotes replaces the internal notes
func (r *RequestRepository) UpdateNotes(ctx context.Context, id int64, notes string) error {
	query := `UPDATE service_requests SET internal_notes = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, id, "notes", query, notes, time.Now().UTC(), id)
}

func (r *RequestRepository) update(ctx context.Context, id int64, what, query string, args ...interface{}) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update request", zap.String("field", what), zap.Error(err))
		return fmt.Errorf("failed to update request %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domainwf.Reject(domainwf.KindNotFound, "request_id", "request %d not found", id)
	}
	return nil
}

// CountAssigned counts requests held by assigneeID at stepID, ignoring excludeID
func (r *RequestRepository) CountAssigned(ctx context.Context, assigneeID, stepID, excludeID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM service_requests
		WHERE assignee_id = ? AND current_step_id = ? AND id <> ?
	`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, assigneeID, stepID, excludeID).Scan(&count); err != nil {
		r.logger.Error("Failed to count assigned requests",
			zap.Int64("assignee_id", assigneeID),
			zap.Int64("step_id", stepID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count assigned requests: %w", err)
	}
	return count, nil
}

// Workload returns assigneeID's open request count per step key
func (r *RequestRepository) Workload(ctx context.Context, assigneeID int64) (map[string]int, error) {
	query := `
		SELECT s.key, COUNT(*)
		FROM service_requests r
		JOIN workflow_steps s ON s.id = r.current_step_id
		WHERE r.assignee_id = ? AND s.kind <> 'terminal'
		GROUP BY s.key
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, assigneeID)
	if err != nil {
		r.logger.Error("Failed to load workload", zap.Int64("assignee_id", assigneeID), zap.Error(err))
		return nil, fmt.Errorf("failed to load workload: %w", err)
	}
	defer rows.Close()

	workload := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan workload: %w", err)
		}
		workload[key] += count
	}
	return workload, rows.Err()
}

// scopeClause turns a visibility scope into WHERE fragments. prefix
// qualifies columns in joined queries.
func scopeClause(scope port.Scope, prefix string) ([]string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if scope.TenantID != nil {
		where = append(where, prefix+"tenant_id = ?")
		args = append(args, *scope.TenantID)
	}
	if scope.RequesterID != nil {
		where = append(where, prefix+"requester_id = ?")
		args = append(args, *scope.RequesterID)
	}
	if scope.AssigneeID != nil {
		where = append(where, prefix+"assignee_id = ?")
		args = append(args, *scope.AssigneeID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.Request, error) {
	var (
		req         entity.Request
		assigneeID  sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.DefinitionID,
		&req.RequesterID,
		&assigneeID,
		&req.CurrentStepID,
		&req.StatusLabel,
		&req.Title,
		&req.Priority,
		&req.InvoiceRaised,
		&req.InvoicePaid,
		&req.InvoiceAmountCents,
		&req.InternalNotes,
		&req.CreatedAt,
		&req.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	req.AssigneeID = int64Ptr(assigneeID)
	req.CompletedAt = timePtr(completedAt)
	return &req, nil
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
