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

const definitionColumns = `id, tenant_id, name, is_default, is_active, version, created_at, updated_at`

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqlite.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the definition, then its steps, then its transitions.
// Transition endpoints given only by key are resolved to the new step ids.
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		now := time.Now().UTC()
		if def.CreatedAt.IsZero() {
			def.CreatedAt = now
		}
		if def.UpdatedAt.IsZero() {
			def.UpdatedAt = def.CreatedAt
		}
		if def.Version == 0 {
			def.Version = 1
		}

		result, err := exec.ExecContext(txCtx, `
			INSERT INTO workflow_definitions (tenant_id, name, is_default, is_active, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, nullInt64(def.TenantID), def.Name, def.IsDefault, def.IsActive, def.Version, def.CreatedAt, def.UpdatedAt)
		if err != nil {
			r.logger.Error("Failed to create definition", zap.String("name", def.Name), zap.Error(err))
			return fmt.Errorf("failed to create definition: %w", err)
		}
		if def.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		byKey := make(map[string]int64, len(def.Steps))
		for _, s := range def.Steps {
			result, err := exec.ExecContext(txCtx, `
				INSERT INTO workflow_steps (
					definition_id, key, name, kind, position, color, wip_limit,
					category, requires_invoice_raised, requires_assignee
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, def.ID, s.Key, s.Name, string(s.Kind), s.Position, s.Color, nullInt(s.WIPLimit),
				string(s.Category), s.RequiresInvoiceRaised, s.RequiresAssignee)
			if err != nil {
				return fmt.Errorf("failed to create step %q: %w", s.Key, err)
			}
			if s.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert id: %w", err)
			}
			s.DefinitionID = def.ID
			byKey[s.Key] = s.ID
		}

		for _, t := range def.Transitions {
			from, ok := byKey[t.FromStepKey]
			if !ok {
				return fmt.Errorf("transition %q starts at unknown step %q", t.Key, t.FromStepKey)
			}
			to, ok := byKey[t.ToStepKey]
			if !ok {
				return fmt.Errorf("transition %q ends at unknown step %q", t.Key, t.ToStepKey)
			}

			result, err := exec.ExecContext(txCtx, `
				INSERT INTO workflow_transitions (definition_id, key, name, from_step_id, to_step_id, allowed_roles)
				VALUES (?, ?, ?, ?, ?, ?)
			`, def.ID, t.Key, t.Name, from, to, entity.JoinRoles(t.AllowedRoles))
			if err != nil {
				return fmt.Errorf("failed to create transition %q: %w", t.Key, err)
			}
			if t.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert id: %w", err)
			}
			t.DefinitionID = def.ID
			t.FromStepID, t.ToStepID = from, to
		}

		return nil
	})
}

// GetByID loads a definition with its steps and transitions
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	if def.Steps, err = r.loadSteps(ctx, id); err != nil {
		return nil, err
	}
	if def.Transitions, err = r.loadTransitions(ctx, id); err != nil {
		return nil, err
	}
	return def, nil
}

// GetDefault returns the tenant's default definition header
func (r *DefinitionRepository) GetDefault(ctx context.Context, tenantID int64) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE tenant_id = ? AND is_default = 1`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get default definition", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to get default definition: %w", err)
	}
	return def, nil
}

// ListByTenant returns the tenant's definitions plus shared ones
func (r *DefinitionRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions
		WHERE tenant_id = ? OR tenant_id IS NULL
		ORDER BY tenant_id IS NULL, id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	defs := []*entity.WorkflowDefinition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// ClearDefault unmarks the tenant's current default, if any
func (r *DefinitionRepository) ClearDefault(ctx context.Context, tenantID int64) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_definitions
		SET is_default = 0, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND is_default = 1
	`, time.Now().UTC(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to clear default definition: %w", err)
	}
	return nil
}

// SetDefault marks a definition as its tenant's default
func (r *DefinitionRepository) SetDefault(ctx context.Context, id int64) error {
	return r.bump(ctx, `is_default = 1`, id)
}

// SetActive activates or deactivates a definition
func (r *DefinitionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	if active {
		return r.bump(ctx, `is_active = 1`, id)
	}
	return r.bump(ctx, `is_active = 0`, id)
}

func (r *DefinitionRepository) bump(ctx context.Context, set string, id int64) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE workflow_definitions SET `+set+`, version = version + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update definition: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("definition %d not found", id)
	}
	return nil
}

// Versions returns the current version of every definition
func (r *DefinitionRepository) Versions(ctx context.Context) (map[int64]int64, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `SELECT id, version FROM workflow_definitions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[int64]int64)
	for rows.Next() {
		var id, version int64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("failed to scan definition version: %w", err)
		}
		versions[id] = version
	}
	return versions, rows.Err()
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, definitionID int64) ([]*entity.Step, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, definition_id, key, name, kind, position, color, wip_limit,
			category, requires_invoice_raised, requires_assignee
		FROM workflow_steps
		WHERE definition_id = ?
		ORDER BY position, id
	`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.Step
	for rows.Next() {
		var (
			s        entity.Step
			kind     string
			category string
			wipLimit sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.DefinitionID, &s.Key, &s.Name, &kind, &s.Position, &s.Color,
			&wipLimit, &category, &s.RequiresInvoiceRaised, &s.RequiresAssignee); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Kind = entity.StepKind(kind)
		s.Category = entity.Category(category)
		s.WIPLimit = intPtr(wipLimit)
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

func (r *DefinitionRepository) loadTransitions(ctx context.Context, definitionID int64) ([]*entity.Transition, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT t.id, t.definition_id, t.key, t.name, t.from_step_id, t.to_step_id,
			f.key, d.key, t.allowed_roles
		FROM workflow_transitions t
		JOIN workflow_steps f ON f.id = t.from_step_id
		JOIN workflow_steps d ON d.id = t.to_step_id
		WHERE t.definition_id = ?
		ORDER BY t.id
	`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*entity.Transition
	for rows.Next() {
		var (
			t     entity.Transition
			roles string
		)
		if err := rows.Scan(&t.ID, &t.DefinitionID, &t.Key, &t.Name, &t.FromStepID, &t.ToStepID,
			&t.FromStepKey, &t.ToStepKey, &roles); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.AllowedRoles = entity.SplitRoles(roles)
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var (
		def      entity.WorkflowDefinition
		tenantID sql.NullInt64
	)
	if err := row.Scan(&def.ID, &tenantID, &def.Name, &def.IsDefault, &def.IsActive,
		&def.Version, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.TenantID = int64Ptr(tenantID)
	return &def, nil
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
