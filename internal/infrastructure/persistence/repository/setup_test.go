package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/workflow"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/practice-workflow/migrations"
	"github.com/garyjia/practice-workflow/pkg/database"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	raw, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 8,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	require.NoError(t, database.NewMigrator(raw, logger).RunMigrations(migrations.FS))
	return sqlite.NewDB(raw, logger)
}

type fixture struct {
	db         *sqlite.DB
	tenant     *entity.Tenant
	admin      *entity.User
	accountant *entity.User
	client     *entity.User
	def        *entity.WorkflowDefinition

	requests    *RequestRepository
	definitions *DefinitionRepository
	history     *HistoryRepository
	users       *UserRepository
	tenants     *TenantRepository
	metrics     *MetricsRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	logger := zap.NewNop()

	f := &fixture{
		db:          db,
		requests:    NewRequestRepository(db, logger).(*RequestRepository),
		definitions: NewDefinitionRepository(db, logger).(*DefinitionRepository),
		history:     NewHistoryRepository(db, logger).(*HistoryRepository),
		users:       NewUserRepository(db, logger).(*UserRepository),
		tenants:     NewTenantRepository(db, logger).(*TenantRepository),
		metrics:     NewMetricsRepository(db, logger).(*MetricsRepository),
	}

	f.tenant = &entity.Tenant{Name: "Ledger & Co"}
	require.NoError(t, f.tenants.Create(ctx, f.tenant))

	f.admin = f.user(t, "Ada", entity.RoleAdmin)
	f.accountant = f.user(t, "Bo", entity.RoleAccountant)
	f.client = f.user(t, "Cy", entity.RoleClient)

	f.def = workflow.StandardDefinition()
	f.def.TenantID = &f.tenant.ID
	f.def.IsDefault = true
	require.NoError(t, f.definitions.Create(ctx, f.def))

	return f
}

func (f *fixture) user(t *testing.T, name string, roles ...string) *entity.User {
	t.Helper()
	u := &entity.User{TenantID: f.tenant.ID, Name: name, Roles: roles, IsActive: true}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) step(t *testing.T, key string) *entity.Step {
	t.Helper()
	for _, s := range f.def.Steps {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("step %q not in fixture definition", key)
	return nil
}

func (f *fixture) request(t *testing.T, stepKey string, assigneeID *int64) *entity.Request {
	t.Helper()
	s := f.step(t, stepKey)
	req := &entity.Request{
		TenantID:      f.tenant.ID,
		DefinitionID:  f.def.ID,
		RequesterID:   f.client.ID,
		AssigneeID:    assigneeID,
		CurrentStepID: s.ID,
		StatusLabel:   s.Key,
		Title:         "Year-end accounts",
		Priority:      entity.PriorityNormal,
	}
	require.NoError(t, f.requests.Create(context.Background(), req))
	return req
}
