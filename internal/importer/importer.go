// Package importer loads historical service requests from spreadsheets.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/metrics"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
)

// Column names recognised in the header row. Matching ignores case and spacing.
const (
	ColRequesterID   = "requester_id"
	ColAssigneeID    = "assignee_id"
	ColStatus        = "status"
	ColTitle         = "title"
	ColPriority      = "priority"
	ColInvoiceRaised = "invoice_raised"
	ColInvoicePaid   = "invoice_paid"
	ColInvoiceAmount = "invoice_amount"
	ColCreatedAt     = "created_at"
	ColCompletedAt   = "completed_at"
)

var requiredColumns = []string{ColRequesterID, ColStatus, ColTitle}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02", "01/02/2006"}

var errDryRun = errors.New("dry run")

// PlacementChecker vets an assignee for a request being written at a step
type PlacementChecker interface {
	CheckPlacement(ctx context.Context, tenantID int64, step *entity.Step, assigneeID int64) error
}

// Options selects where rows land
type Options struct {
	TenantID int64
	// DefinitionID of zero uses the tenant's default definition
	DefinitionID int64
	// Sheet defaults to the first sheet in the workbook
	Sheet   string
	ActorID int64
	DryRun  bool
}

// RowResult is the outcome of one spreadsheet row. Row is 1-based as
// shown in a spreadsheet application.
type RowResult struct {
	Row       int    `json:"row"`
	RequestID int64  `json:"request_id,omitempty"`
	StepKey   string `json:"step_key,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Field     string `json:"field,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Skipped reports whether the row was rejected
func (r RowResult) Skipped() bool { return r.Error != "" }

// Report summarises an import run
type Report struct {
	DryRun   bool        `json:"dry_run"`
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Rows     []RowResult `json:"rows"`
}

// Importer writes historical requests directly at their recorded step
type Importer struct {
	requests    port.RequestRepository
	history     port.HistoryRepository
	definitions port.DefinitionRepository
	users       port.UserRepository
	catalog     port.GraphCatalog
	txManager   port.TransactionManager
	placement   PlacementChecker
	statuses    *domainwf.StatusMapping
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an importer
func New(
	requests port.RequestRepository,
	history port.HistoryRepository,
	definitions port.DefinitionRepository,
	users port.UserRepository,
	catalog port.GraphCatalog,
	txManager port.TransactionManager,
	placement PlacementChecker,
	statuses *domainwf.StatusMapping,
	logger *zap.Logger,
) *Importer {
	if statuses == nil {
		statuses = domainwf.NewStatusMapping(nil)
	}
	return &Importer{
		requests:    requests,
		history:     history,
		definitions: definitions,
		users:       users,
		catalog:     catalog,
		txManager:   txManager,
		placement:   placement,
		statuses:    statuses,
		logger:      logger,
		now:         time.Now,
	}
}

// ImportWorkbook reads an xlsx workbook and writes one request per valid
// row. Invalid rows are reported and skipped. In dry-run mode every row is
// checked against the store, then the transaction is rolled back.
func (im *Importer) ImportWorkbook(ctx context.Context, r io.Reader, opts Options) (*Report, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	columns, err := headerIndex(rows[0])
	if err != nil {
		return nil, err
	}

	def, err := im.resolveDefinition(ctx, opts)
	if err != nil {
		return nil, err
	}
	g, err := im.catalog.Graph(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: opts.DryRun, Rows: make([]RowResult, 0, len(rows)-1)}

	err = im.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for i, cells := range rows[1:] {
			if blank(cells) {
				continue
			}
			rowNum := i + 2
			result, err := im.importRow(txCtx, g, opts, record{columns: columns, cells: cells})
			if err != nil {
				if _, ok := domainwf.AsRejection(err); !ok {
					return fmt.Errorf("row %d: %w", rowNum, err)
				}
				result = rejectedRow(err)
			}
			result.Row = rowNum
			if opts.DryRun {
				result.RequestID = 0
			}

			if result.Skipped() {
				report.Skipped++
			} else {
				report.Imported++
			}
			report.Rows = append(report.Rows, result)
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}

	im.logger.Info("Workbook import finished",
		zap.Int64("tenant_id", opts.TenantID),
		zap.Int64("definition_id", def.ID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped))

	return report, nil
}

func (im *Importer) importRow(ctx context.Context, g *domainwf.Graph, opts Options, rec record) (RowResult, error) {
	title := rec.get(ColTitle)
	if title == "" {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColTitle, "title is required")
	}

	requesterID, err := rec.int64(ColRequesterID)
	if err != nil || requesterID == 0 {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColRequesterID, "requester id %q is not a number", rec.get(ColRequesterID))
	}
	requester, err := im.users.GetByID(ctx, requesterID)
	if err != nil {
		return RowResult{}, fmt.Errorf("failed to load requester: %w", err)
	}
	if requester == nil || requester.TenantID != opts.TenantID {
		return RowResult{}, domainwf.Reject(domainwf.KindNotFound, ColRequesterID, "requester %d not found in tenant %d", requesterID, opts.TenantID)
	}

	step, err := im.statuses.Resolve(g, rec.get(ColStatus))
	if err != nil {
		return RowResult{}, err
	}

	raised, err := rec.bool(ColInvoiceRaised)
	if err != nil {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColInvoiceRaised, "%v", err)
	}
	paid, err := rec.bool(ColInvoicePaid)
	if err != nil {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColInvoicePaid, "%v", err)
	}
	if paid && !raised {
		return RowResult{}, domainwf.Reject(domainwf.KindInvoiceState, ColInvoicePaid, "invoice is paid but was never raised")
	}
	if step.RequiresInvoiceRaised && !raised {
		return RowResult{}, domainwf.Reject(domainwf.KindInvoicePrerequisiteNotMet, ColInvoiceRaised, "step %q needs a raised invoice", step.Key)
	}
	amount, err := metrics.ParseMoney(rec.get(ColInvoiceAmount))
	if err != nil || amount < 0 {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColInvoiceAmount, "invalid invoice amount %q", rec.get(ColInvoiceAmount))
	}

	priority := strings.ToLower(rec.get(ColPriority))
	switch priority {
	case "":
		priority = entity.PriorityNormal
	case entity.PriorityLow, entity.PriorityNormal, entity.PriorityHigh, entity.PriorityUrgent:
	default:
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColPriority, "unknown priority %q", priority)
	}

	createdAt, err := rec.time(ColCreatedAt)
	if err != nil {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColCreatedAt, "%v", err)
	}
	if createdAt == nil {
		now := im.now().UTC()
		createdAt = &now
	}
	completedAt, err := rec.time(ColCompletedAt)
	if err != nil {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColCompletedAt, "%v", err)
	}
	completedAt = normalizeCompletion(step, *createdAt, completedAt)

	var assigneeID *int64
	if rec.get(ColAssigneeID) != "" {
		id, err := rec.int64(ColAssigneeID)
		if err != nil {
			return RowResult{}, domainwf.Reject(domainwf.KindInvalidInput, ColAssigneeID, "assignee id %q is not a number", rec.get(ColAssigneeID))
		}
		assigneeID = &id
	}
	if assigneeID == nil && step.RequiresAssignee {
		return RowResult{}, domainwf.Reject(domainwf.KindInvalidAssignee, ColAssigneeID, "step %q needs an assignee", step.Key)
	}
	// Terminal steps are outside the WIP count, so only open rows are vetted.
	if assigneeID != nil && !step.IsTerminal() {
		if err := im.placement.CheckPlacement(ctx, opts.TenantID, step, *assigneeID); err != nil {
			return RowResult{}, err
		}
	}

	req := &entity.Request{
		TenantID:           opts.TenantID,
		DefinitionID:       g.DefinitionID(),
		RequesterID:        requesterID,
		AssigneeID:         assigneeID,
		CurrentStepID:      step.ID,
		StatusLabel:        im.statuses.Label(step),
		Title:              title,
		Priority:           priority,
		InvoiceRaised:      raised,
		InvoicePaid:        paid,
		InvoiceAmountCents: int64(amount),
		CreatedAt:          *createdAt,
		UpdatedAt:          *createdAt,
		CompletedAt:        completedAt,
	}
	if completedAt != nil {
		req.UpdatedAt = *completedAt
	}

	if err := im.requests.Create(ctx, req); err != nil {
		return RowResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	if err := im.history.Create(ctx, &entity.RequestTransition{
		RequestID: req.ID,
		ToStepKey: step.Key,
		ActorID:   opts.ActorID,
		CreatedAt: req.UpdatedAt,
	}); err != nil {
		return RowResult{}, fmt.Errorf("failed to record import: %w", err)
	}

	return RowResult{RequestID: req.ID, StepKey: step.Key}, nil
}

func (im *Importer) resolveDefinition(ctx context.Context, opts Options) (*entity.WorkflowDefinition, error) {
	var (
		def *entity.WorkflowDefinition
		err error
	)
	if opts.DefinitionID != 0 {
		def, err = im.definitions.GetByID(ctx, opts.DefinitionID)
	} else {
		def, err = im.definitions.GetDefault(ctx, opts.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve definition: %w", err)
	}
	if def == nil || (def.TenantID != nil && *def.TenantID != opts.TenantID) {
		return nil, domainwf.Reject(domainwf.KindNotFound, "definition_id", "no usable definition for tenant %d", opts.TenantID)
	}
	return def, nil
}

// normalizeCompletion keeps completed_at set exactly when the step is terminal
func normalizeCompletion(step *entity.Step, createdAt time.Time, completedAt *time.Time) *time.Time {
	if !step.IsTerminal() {
		return nil
	}
	if completedAt == nil || completedAt.Before(createdAt) {
		return &createdAt
	}
	return completedAt
}

func rejectedRow(err error) RowResult {
	rej, _ := domainwf.AsRejection(err)
	return RowResult{Kind: string(rej.Kind), Field: rej.Field, Error: rej.Detail}
}

func headerIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := domainwf.NormalizeLabel(name)
		if key == "" {
			continue
		}
		if _, dup := columns[key]; dup {
			return nil, fmt.Errorf("column %q appears twice", name)
		}
		columns[key] = i
	}
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return columns, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

type record struct {
	columns map[string]int
	cells   []string
}

func (r record) get(col string) string {
	i, ok := r.columns[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r record) int64(col string) (int64, error) {
	return strconv.ParseInt(r.get(col), 10, 64)
}

func (r record) bool(col string) (bool, error) {
	switch strings.ToLower(r.get(col)) {
	case "", "0", "false", "no", "n":
		return false, nil
	case "1", "true", "yes", "y":
		return true, nil
	default:
		return false, fmt.Errorf("%s: %q is not yes or no", col, r.get(col))
	}
}

func (r record) time(col string) (*time.Time, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s: unrecognised date %q", col, v)
}
