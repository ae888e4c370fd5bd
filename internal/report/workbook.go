// Package report renders dashboard snapshots as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/practice-workflow/internal/application/metrics"
)

// Sheet names in the exported workbook
const (
	SummarySheet = "Summary"
	StepsSheet   = "Steps"
)

// WriteMetricsWorkbook writes a two-sheet xlsx snapshot of m to w.
// Amounts are written with two decimal places.
func WriteMetricsWorkbook(w io.Writer, m *metrics.Metrics, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if _, err := f.NewSheet(StepsSheet); err != nil {
		return fmt.Errorf("failed to add steps sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Total requests", m.Total},
		{"Pending", m.Pending},
		{"Active", m.Active},
		{"Query pending", m.QueryPending},
		{"Under review", m.UnderReview},
		{"Completed", m.Completed},
		{"Invoices raised", m.InvoiceRaised},
		{"Invoices paid", m.InvoicePaid},
		{"Total revenue", m.TotalRevenue.String()},
		{"Pending receivables", m.PendingReceivables.String()},
		{"Generated at", generatedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range summary {
		row := row
		if err := f.SetSheetRow(SummarySheet, cell(1, i+1), &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	moneyRows := map[int]metrics.Money{10: m.TotalRevenue, 11: m.PendingReceivables}
	for row, amount := range moneyRows {
		if err := f.SetCellFloat(SummarySheet, cell(2, row), float64(amount)/100, 2, 64); err != nil {
			return fmt.Errorf("failed to write amount: %w", err)
		}
		if err := f.SetCellStyle(SummarySheet, cell(2, row), cell(2, row), money); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", bold); err != nil {
		return err
	}

	if err := f.SetSheetRow(StepsSheet, "A1", &[]interface{}{"Step", "Category", "Requests"}); err != nil {
		return fmt.Errorf("failed to write steps header: %w", err)
	}
	for i, s := range m.Steps {
		if err := f.SetSheetRow(StepsSheet, cell(1, i+2), &[]interface{}{s.StepKey, string(s.Category), s.Requests}); err != nil {
			return fmt.Errorf("failed to write step %s: %w", s.StepKey, err)
		}
	}
	if err := f.SetCellStyle(StepsSheet, "A1", "C1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(StepsSheet, "A", "B", 20); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
