package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
)

// TenantRepository implements port.TenantRepository
type TenantRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sqlite.DB, logger *zap.Logger) port.TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

// Create inserts a tenant and fills its ID
func (r *TenantRepository) Create(ctx context.Context, tenant *entity.Tenant) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`INSERT INTO tenants (name, parent_id) VALUES (?, ?)`,
		tenant.Name, nullInt64(tenant.ParentID))
	if err != nil {
		r.logger.Error("Failed to create tenant", zap.String("name", tenant.Name), zap.Error(err))
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	if tenant.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*entity.Tenant, error) {
	var (
		tenant   entity.Tenant
		parentID sql.NullInt64
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT id, name, parent_id FROM tenants WHERE id = ?`, id,
	).Scan(&tenant.ID, &tenant.Name, &parentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	tenant.ParentID = int64Ptr(parentID)
	return &tenant, nil
}

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlite.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a user and fills its ID
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO users (tenant_id, name, email, roles, is_active)
		VALUES (?, ?, ?, ?, ?)
	`, user.TenantID, user.Name, user.Email, entity.JoinRoles(user.Roles), user.IsActive)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Int64("tenant_id", user.TenantID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	if user.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var (
		user  entity.User
		roles string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, roles, is_active FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.TenantID, &user.Name, &user.Email, &roles, &user.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Roles = entity.SplitRoles(roles)
	return &user, nil
}

// Verify interface compliance
var (
	_ port.TenantRepository = (*TenantRepository)(nil)
	_ port.UserRepository   = (*UserRepository)(nil)
)
