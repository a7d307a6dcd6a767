package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cervicel-cytology-server/internal/domain"
)

const reportSheet = "Reports"

// XLSXHeaders are the column headings of the spreadsheet export.
var XLSXHeaders = []string{
	"ID", "Created At", "Age (days)", "Age Category", "Phase", "Condition",
	"Images", "Total Cells", "PC %", "IC %", "SC %", "MI",
	"SM %", "KC %", "EC %", "EM %", "AC %",
	"Findings", "IUD Diagnosis", "Expected Cells",
}

// ExportJSON writes every report in the store to writer.
func ExportJSON(ctx context.Context, store Lister, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	export := &Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Reports:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON loads an export into store, skipping reports whose ID already exists
// and reports the store rejects as invalid.
func ImportJSON(ctx context.Context, store domain.ReportStore, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, record := range export.Reports {
		if record == nil || record.Report == nil {
			skipped++
			continue
		}

		_, err := store.Get(ctx, record.ID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if err := store.Save(ctx, record); err != nil {
			// Records the store refuses, such as a missing or malformed id, are skipped.
			var validationErr *domain.ValidationError
			if errors.As(err, &validationErr) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// ExportXLSX writes one spreadsheet row per report.
func ExportXLSX(ctx context.Context, store Lister, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header, _ := excelize.CoordinatesToCellName(1, 1)
	if err := f.SetSheetRow(reportSheet, header, &XLSXHeaders); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, record := range all {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := xlsxRow(record)
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func xlsxRow(record *domain.ReportRecord) []interface{} {
	r := record.Report
	pct := r.NonMIPercentages

	findings := make([]string, 0, len(r.NonMIFindings))
	for _, code := range domain.NonMICellCodes {
		if msg, ok := r.NonMIFindings[code]; ok {
			findings = append(findings, msg)
		}
	}

	return []interface{}{
		record.ID,
		record.CreatedAt.Format(time.RFC3339),
		record.Input.AgeDays,
		r.AgeCategory.String(),
		string(r.Phase),
		domain.ParseCondition(record.Input.Condition).String(),
		record.ImageCount,
		r.TotalCells,
		r.MaturationIndex.Parabasal,
		r.MaturationIndex.Intermediate,
		r.MaturationIndex.Superficial,
		r.MaturationIndex.String(),
		pct[domain.SquamousMetaplastic],
		pct[domain.Koilocyte],
		pct[domain.Endocervical],
		pct[domain.Endometrial],
		pct[domain.Actinomyces],
		strings.Join(findings, "; "),
		r.IUDDiagnosis,
		strings.Join(r.ExpectedCells, ", "),
	}
}
