// Package batch screens spreadsheets of business scenarios against the
// compliance analyzer and writes the verdicts back as a workbook.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/lexgraph/compliance"
)

// ErrNoDescriptionColumn is returned when the header row has no description
// column.
var ErrNoDescriptionColumn = errors.New("batch: no description column in header row")

// ErrNoHeader is returned for a workbook whose first sheet is empty.
var ErrNoHeader = errors.New("batch: first sheet has no header row")

const (
	reportSheet  = "Report"
	summarySheet = "Summary"
)

// Scenario is one spreadsheet row turned into a compliance request.
type Scenario struct {
	Row     int // 1-based row in the source sheet
	Request compliance.Request
}

// Outcome is the screening result of one scenario.
type Outcome struct {
	Scenario Scenario
	Result   *compliance.Result
	Err      string
}

// AnalyzeFunc analyses one request.
type AnalyzeFunc func(ctx context.Context, req compliance.Request) (*compliance.Result, error)

// ReadScenarios reads the first sheet of an xlsx workbook. The first row is
// the header: "description" and "business_type" map to the request fields,
// every other column becomes an attribute keyed by its snake_case header.
// Blank rows are skipped.
func ReadScenarios(r io.Reader) ([]Scenario, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}

	header := make([]string, len(rows[0]))
	hasDesc := false
	for i, h := range rows[0] {
		header[i] = columnKey(h)
		if header[i] == "description" {
			hasDesc = true
		}
	}
	if !hasDesc {
		return nil, ErrNoDescriptionColumn
	}

	var out []Scenario
	for i, row := range rows[1:] {
		req := compliance.Request{}
		blank := true
		for j, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" || j >= len(header) || header[j] == "" {
				continue
			}
			blank = false
			switch header[j] {
			case "description":
				req.Description = cell
			case "business_type":
				req.BusinessType = cell
			default:
				if req.Attributes == nil {
					req.Attributes = make(map[string]string)
				}
				req.Attributes[header[j]] = cell
			}
		}
		if blank {
			continue
		}
		out = append(out, Scenario{Row: i + 2, Request: req})
	}
	slog.Debug("batch: scenarios read", "sheet", sheets[0], "rows", len(rows)-1, "scenarios", len(out))
	return out, nil
}

var columnAliases = map[string]string{
	"detailed_description": "description",
	"scenario":             "description",
	"business":             "business_type",
	"industry":             "business_type",
}

// columnKey turns a header cell into a snake_case key.
func columnKey(h string) string {
	key := strings.Join(strings.FieldsFunc(strings.ToLower(h), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
	if alias, ok := columnAliases[key]; ok {
		return alias
	}
	return key
}

// Screen analyses every scenario in order. A failing scenario is recorded in
// its outcome and does not stop the batch.
func Screen(ctx context.Context, scenarios []Scenario, analyze AnalyzeFunc) []Outcome {
	out := make([]Outcome, len(scenarios))
	failed := 0
	for i, sc := range scenarios {
		out[i].Scenario = sc
		if err := ctx.Err(); err != nil {
			out[i].Err = err.Error()
			failed++
			continue
		}
		res, err := analyze(ctx, sc.Request)
		if err != nil {
			slog.Warn("batch: scenario failed", "row", sc.Row, "error", err)
			out[i].Err = err.Error()
			failed++
			continue
		}
		out[i].Result = res
	}
	slog.Info("batch: screening complete", "scenarios", len(scenarios), "failed", failed)
	return out
}

var reportHeader = []interface{}{
	"Row", "Business Type", "Description", "Status", "Risk Level", "Confidence",
	"Violated Regulations", "Recommendations", "Error",
}

// WriteReport writes outcomes as an xlsx workbook with a "Report" sheet (one
// row per scenario) and a "Summary" sheet.
func WriteReport(w io.Writer, outcomes []Outcome) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("creating report sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := setRow(f, reportSheet, 1, reportHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(reportSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}
	var results []compliance.Result
	for i, o := range outcomes {
		row := []interface{}{o.Scenario.Row, o.Scenario.Request.BusinessType, o.Scenario.Request.Description}
		if o.Result != nil {
			results = append(results, *o.Result)
			row = append(row,
				string(o.Result.Status),
				string(o.Result.RiskLevel),
				math.Round(o.Result.Confidence*1000)/1000,
				strings.Join(o.Result.ViolatedRegulations, "; "),
				strings.Join(o.Result.Recommendations, "\n"),
				"",
			)
		} else {
			row = append(row, "", "", "", "", "", o.Err)
		}
		if err := setRow(f, reportSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(reportSheet, "C", "C", 60); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if err := f.SetColWidth(reportSheet, "G", "H", 50); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}
	if err := writeSummary(f, compliance.Compare(results), len(outcomes)-len(results)); err != nil {
		return err
	}
	if err := f.SetRowStyle(summarySheet, 1, 1, bold); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, c *compliance.Comparison, failed int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Scenarios", c.TotalAnalyses + failed},
		{"Analysed", c.TotalAnalyses},
		{"Failed", failed},
		{"Average Confidence", math.Round(c.AverageConfidence*1000) / 1000},
	}
	for _, s := range []compliance.Status{compliance.StatusCompliant, compliance.StatusAtRisk, compliance.StatusViolation} {
		rows = append(rows, []interface{}{"Status " + string(s), c.StatusDistribution[string(s)]})
	}
	for _, l := range []compliance.RiskLevel{compliance.RiskLow, compliance.RiskMedium, compliance.RiskHigh} {
		rows = append(rows, []interface{}{"Risk " + string(l), c.RiskLevelDistribution[string(l)]})
	}
	titles := make([]string, 0, len(c.CommonViolations))
	for t := range c.CommonViolations {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	for _, t := range titles {
		rows = append(rows, []interface{}{"Violation " + t, c.CommonViolations[t]})
	}
	for i, r := range rows {
		if err := setRow(f, summarySheet, i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}
