package importer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/assignment"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/application/workflow"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/practice-workflow/migrations"
	"github.com/garyjia/practice-workflow/pkg/database"
)

var header = []interface{}{
	"Requester ID", "Assignee ID", "Status", "Title", "Priority",
	"Invoice Raised", "Invoice Paid", "Invoice Amount", "Created At", "Completed At",
}

type importFixture struct {
	importer   *Importer
	requests   port.RequestRepository
	history    port.HistoryRepository
	tenantID   int64
	def        *entity.WorkflowDefinition
	accountant *entity.User
	client     *entity.User
	outsider   *entity.User
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	raw, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "import.db"), MaxOpenConns: 4}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, logger).RunMigrations(migrations.FS))
	db := sqlite.NewDB(raw, logger)

	tenants := repository.NewTenantRepository(db, logger)
	users := repository.NewUserRepository(db, logger)
	definitions := repository.NewDefinitionRepository(db, logger)

	f := &importFixture{
		requests: repository.NewRequestRepository(db, logger),
		history:  repository.NewHistoryRepository(db, logger),
	}

	home := &entity.Tenant{Name: "Northwind"}
	other := &entity.Tenant{Name: "Contoso"}
	require.NoError(t, tenants.Create(ctx, home))
	require.NoError(t, tenants.Create(ctx, other))
	f.tenantID = home.ID

	addUser := func(tenantID int64, name string, roles ...string) *entity.User {
		u := &entity.User{TenantID: tenantID, Name: name, Roles: roles, IsActive: true}
		require.NoError(t, users.Create(ctx, u))
		return u
	}
	f.accountant = addUser(home.ID, "Bo", entity.RoleAccountant)
	f.client = addUser(home.ID, "Cy", entity.RoleClient)
	f.outsider = addUser(other.ID, "Dee", entity.RoleAccountant)

	f.def = workflow.StandardDefinition()
	f.def.TenantID = &home.ID
	f.def.IsDefault = true
	require.NoError(t, definitions.Create(ctx, f.def))

	catalog := workflow.NewCatalog(definitions, nil)
	manager := assignment.NewManager(f.requests, users, db, catalog)
	statuses := domainwf.NewStatusMapping(map[string]string{"In Progress": "processing", "Done": "completed"})

	f.importer = New(f.requests, f.history, definitions, users, catalog, db, manager, statuses, logger)
	return f
}

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		row := row
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func (f *importFixture) stored(t *testing.T) []*entity.Request {
	t.Helper()
	reqs, err := f.requests.List(context.Background(), port.Scope{TenantID: &f.tenantID}, port.ListFilter{Limit: 100})
	require.NoError(t, err)
	return reqs
}

func TestImportWorkbook(t *testing.T) {
	f := newImportFixture(t)
	client := f.client.ID
	acct := f.accountant.ID

	buf := workbook(t,
		[]interface{}{client, "", "pending", "Payroll setup", "high", "no", "no", "", "2025-01-10", ""},
		[]interface{}{client, acct, "In Progress", "VAT Q1", "", "yes", "no", "250.50", "2025-02-01 09:30:00", "2025-02-03"},
		[]interface{}{client, acct, "done", "Annual accounts", "normal", "yes", "yes", "1200", "2025-03-01", ""},
		[]interface{}{client, "", "archived", "Unknown label", "", "", "", "", "", ""},
		[]interface{}{client, "", "pending", "Paid not raised", "", "no", "yes", "", "", ""},
		[]interface{}{client, f.outsider.ID, "processing", "Foreign assignee", "", "yes", "", "", "", ""},
		[]interface{}{"", "", "", "", "", "", "", "", "", ""},
	)

	report, err := f.importer.ImportWorkbook(context.Background(), buf, Options{TenantID: f.tenantID, ActorID: acct})
	require.NoError(t, err)

	assert.False(t, report.DryRun)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 3, report.Skipped)
	require.Len(t, report.Rows, 6)

	assert.Equal(t, 2, report.Rows[0].Row)
	assert.NotZero(t, report.Rows[0].RequestID)
	assert.Equal(t, "processing", report.Rows[1].StepKey)
	assert.Equal(t, "completed", report.Rows[2].StepKey)

	assert.Equal(t, string(domainwf.KindNotFound), report.Rows[3].Kind)
	assert.Equal(t, "status", report.Rows[3].Field)
	assert.Equal(t, string(domainwf.KindInvoiceState), report.Rows[4].Kind)
	assert.Equal(t, string(domainwf.KindInvalidAssignee), report.Rows[5].Kind)

	stored := f.stored(t)
	require.Len(t, stored, 3)

	byTitle := map[string]*entity.Request{}
	for _, r := range stored {
		byTitle[r.Title] = r
	}

	vat := byTitle["VAT Q1"]
	require.NotNil(t, vat)
	assert.Equal(t, "processing", vat.StatusLabel)
	assert.Equal(t, int64(25050), vat.InvoiceAmountCents)
	assert.Nil(t, vat.CompletedAt, "open requests never carry a completion time")
	assert.True(t, vat.IsAssignedTo(acct))

	annual := byTitle["Annual accounts"]
	require.NotNil(t, annual)
	require.NotNil(t, annual.CompletedAt, "terminal requests always carry a completion time")
	assert.Equal(t, annual.CreatedAt.Unix(), annual.CompletedAt.Unix())

	hist, err := f.history.ListByRequest(context.Background(), vat.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "processing", hist[0].ToStepKey)
	assert.Equal(t, acct, hist[0].ActorID)
}

func TestImportWorkbook_DryRunWritesNothing(t *testing.T) {
	f := newImportFixture(t)

	buf := workbook(t,
		[]interface{}{f.client.ID, "", "pending", "Bookkeeping", "", "", "", "", "", ""},
		[]interface{}{f.client.ID, "", "assigned", "No invoice yet", "", "no", "", "", "", ""},
	)

	report, err := f.importer.ImportWorkbook(context.Background(), buf, Options{TenantID: f.tenantID, DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Rows[0].RequestID)
	assert.Equal(t, string(domainwf.KindInvoicePrerequisiteNotMet), report.Rows[1].Kind)
	assert.Empty(t, f.stored(t))
}

func TestImportWorkbook_WipLimitCountsEarlierRows(t *testing.T) {
	f := newImportFixture(t)

	// processing allows five requests per assignee
	var rows [][]interface{}
	for i := 0; i < 6; i++ {
		rows = append(rows, []interface{}{f.client.ID, f.accountant.ID, "processing", fmt.Sprintf("Job %d", i), "", "yes", "", "", "", ""})
	}

	for _, dryRun := range []bool{true, false} {
		report, err := f.importer.ImportWorkbook(context.Background(), workbook(t, rows...), Options{TenantID: f.tenantID, DryRun: dryRun})
		require.NoError(t, err)
		assert.Equal(t, 5, report.Imported, "dry_run=%v", dryRun)
		assert.Equal(t, 1, report.Skipped, "dry_run=%v", dryRun)
		assert.Equal(t, string(domainwf.KindWipLimitExceeded), report.Rows[5].Kind)
	}
	assert.Len(t, f.stored(t), 5)
}

func TestImportWorkbook_BadSheet(t *testing.T) {
	f := newImportFixture(t)

	t.Run("missing column", func(t *testing.T) {
		x := excelize.NewFile()
		defer x.Close()
		require.NoError(t, x.SetSheetRow(x.GetSheetName(0), "A1", &[]interface{}{"title", "status"}))
		buf, err := x.WriteToBuffer()
		require.NoError(t, err)

		_, err = f.importer.ImportWorkbook(context.Background(), buf, Options{TenantID: f.tenantID})
		require.Error(t, err)
		assert.Contains(t, err.Error(), ColRequesterID)
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := f.importer.ImportWorkbook(context.Background(), bytes.NewBufferString("a,b,c"), Options{TenantID: f.tenantID})
		assert.Error(t, err)
	})

	t.Run("tenant without definition", func(t *testing.T) {
		_, err := f.importer.ImportWorkbook(context.Background(), workbook(t), Options{TenantID: 999})
		assert.ErrorIs(t, err, domainwf.ErrNotFound)
	})
}

func TestNormalizeCompletion(t *testing.T) {
	created := mustTime(t, "2025-04-01")
	earlier := mustTime(t, "2025-03-01")
	later := mustTime(t, "2025-04-09")

	open := &entity.Step{Kind: entity.StepKindNormal}
	done := &entity.Step{Kind: entity.StepKindTerminal}

	assert.Nil(t, normalizeCompletion(open, created, &later))
	assert.Equal(t, created, *normalizeCompletion(done, created, nil))
	assert.Equal(t, created, *normalizeCompletion(done, created, &earlier))
	assert.Equal(t, later, *normalizeCompletion(done, created, &later))
}

func mustTime(t *testing.T, v string) time.Time {
	t.Helper()
	rec := record{columns: map[string]int{"x": 0}, cells: []string{v}}
	ts, err := rec.time("x")
	require.NoError(t, err)
	require.NotNil(t, ts)
	return *ts
}
