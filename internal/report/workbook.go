// Package report exports confirmed reconciliation links as an xlsx workbook.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SummarySheet = "Summary"
	LinksSheet   = "Confirmed Links"
)

var linkHeadings = []string{
	"Link ID", "Confirmed", "Confirmed By", "Method", "Pass",
	"Sales", "Bank Entries", "Sale Total", "Bank Total", "Confidence",
}

// Summary aggregates confirmed links for the summary sheet.
type Summary struct {
	GeneratedAt time.Time
	ByPass      map[model.MatchPass]int
	ByMethod    map[model.MatchMethod]int
	Matched     decimal.Decimal
	Links       int
}

// Summarize totals confirmed links by pass and method.
func Summarize(links []model.ReconciliationLink, at time.Time) Summary {
	summary := Summary{
		GeneratedAt: at,
		ByPass:      make(map[model.MatchPass]int),
		ByMethod:    make(map[model.MatchMethod]int),
		Matched:     decimal.Zero,
	}
	for _, link := range links {
		if link.Status != model.LinkConfirmed {
			continue
		}
		summary.Links++
		summary.ByPass[link.Pass]++
		summary.ByMethod[link.Method]++
		summary.Matched = summary.Matched.Add(link.Total())
	}
	return summary
}

// WriteWorkbook saves confirmed links and their summary to path.
func WriteWorkbook(ctx context.Context, links []model.ReconciliationLink, path string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// The default sheet becomes the summary.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if _, err := f.NewSheet(LinksSheet); err != nil {
		return fmt.Errorf("failed to create links sheet: %w", err)
	}

	summary := Summarize(links, at)
	if err := writeRows(f, SummarySheet, summaryRows(summary)); err != nil {
		return err
	}

	rows := linkRows(links)
	if err := writeRows(f, LinksSheet, rows); err != nil {
		return err
	}
	if err := styleHeader(f, LinksSheet, len(linkHeadings)); err != nil {
		slog.Warn("Failed to style workbook header", "error", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	slog.Info("Wrote reconciliation workbook", "path", path, "links", summary.Links)
	return nil
}

func summaryRows(s Summary) [][]any {
	rows := [][]any{
		{"Reconciliation Report", s.GeneratedAt.Format(time.DateOnly)},
		{},
		{"Confirmed Links", s.Links},
		{"Matched Amount", s.Matched.StringFixed(2)},
		{},
		{"By Pass", "Count"},
	}

	passes := make([]string, 0, len(s.ByPass))
	for pass := range s.ByPass {
		passes = append(passes, string(pass))
	}
	sort.Strings(passes)
	for _, pass := range passes {
		rows = append(rows, []any{pass, s.ByPass[model.MatchPass(pass)]})
	}

	rows = append(rows, []any{}, []any{"By Method", "Count"})
	methods := make([]string, 0, len(s.ByMethod))
	for method := range s.ByMethod {
		methods = append(methods, string(method))
	}
	sort.Strings(methods)
	for _, method := range methods {
		rows = append(rows, []any{method, s.ByMethod[model.MatchMethod(method)]})
	}
	return rows
}

func linkRows(links []model.ReconciliationLink) [][]any {
	rows := make([][]any, 0, len(links)+1)

	header := make([]any, len(linkHeadings))
	for i, h := range linkHeadings {
		header[i] = h
	}
	rows = append(rows, header)

	for _, link := range links {
		if link.Status != model.LinkConfirmed {
			continue
		}
		confirmed := ""
		if link.ConfirmedAt != nil {
			confirmed = link.ConfirmedAt.Format(time.DateTime)
		}
		saleTotal, _ := link.SaleTotal.Float64()
		bankTotal, _ := link.BankTotal.Float64()
		rows = append(rows, []any{
			link.ID,
			confirmed,
			link.ConfirmedBy,
			string(link.Method),
			string(link.Pass),
			strings.Join(link.SaleIDs, ", "),
			strings.Join(link.BankEntryIDs, ", "),
			saleTotal,
			bankTotal,
			link.Confidence,
		})
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func styleHeader(f *excelize.File, sheet string, columns int) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}
