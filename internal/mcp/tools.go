package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/render"
	"github.com/cervicel-cytology-server/internal/service"
)

// InterpretCountsInput is the input schema for the interpret_counts tool.
type InterpretCountsInput struct {
	AgeDays        int               `json:"age_days" jsonschema:"patient age in days"`
	LMPDate        string            `json:"lmp_date,omitempty" jsonschema:"last menstrual period as YYYY-MM-DD"`
	CycleLength    int               `json:"cycle_length,omitempty" jsonschema:"cycle length in days (default 28)"`
	Condition      string            `json:"condition,omitempty" jsonschema:"pregnancy or postpartum_lactation"`
	Contraceptive  string            `json:"contraceptive,omitempty" jsonschema:"progesterone, estrogen or androgen"`
	HormoneTherapy string            `json:"hormone_therapy,omitempty" jsonschema:"progesterone, estrogen or androgen"`
	Counts         domain.CellCounts `json:"counts" jsonschema:"cell counts keyed by code: PC IC SC SM KC EC EM AC"`
}

// ReportOutput is the output schema for tools returning a report.
type ReportOutput struct {
	ID                   string             `json:"id"`
	Summary              string             `json:"summary"`
	AgeCategory          string             `json:"age_category"`
	Phase                string             `json:"phase"`
	MaturationIndex      string             `json:"maturation_index"`
	ExpectedCells        []string           `json:"expected_cells"`
	ExpectedCellsSource  string             `json:"expected_cells_source"`
	NonMIFindings        map[string]string  `json:"non_mi_findings"`
	NonMIPercentages     map[string]float64 `json:"non_mi_percentages"`
	IUDDiagnosis         string             `json:"iud_diagnosis,omitempty"`
	ContraceptiveImpact  string             `json:"contraceptive_impact"`
	HormoneTherapyImpact string             `json:"hormone_therapy_impact"`
	TotalCells           int                `json:"total_cells"`
	Warnings             []string           `json:"warnings,omitempty"`
	CreatedAt            string             `json:"created_at"`
	Markdown             string             `json:"markdown,omitempty"`
}

// ClassifyAgeInput is the input schema for the classify_age tool.
type ClassifyAgeInput struct {
	AgeDays int `json:"age_days" jsonschema:"patient age in days"`
}

// ClassifyAgeOutput is the output schema for the classify_age tool.
type ClassifyAgeOutput struct {
	AgeCategory string `json:"age_category"`
	Defined     bool   `json:"defined"`
}

// CalculatePhaseInput is the input schema for the calculate_phase tool.
type CalculatePhaseInput struct {
	LMPDate     string `json:"lmp_date" jsonschema:"last menstrual period as YYYY-MM-DD"`
	CycleLength int    `json:"cycle_length,omitempty" jsonschema:"cycle length in days (default 28)"`
	Today       string `json:"today,omitempty" jsonschema:"reference date as YYYY-MM-DD (default today)"`
}

// CalculatePhaseOutput is the output schema for the calculate_phase tool.
type CalculatePhaseOutput struct {
	Phase       string `json:"phase"`
	CycleLength int    `json:"cycle_length"`
}

// GetReportInput is the input schema for the get_report tool.
type GetReportInput struct {
	ID       string `json:"id" jsonschema:"report id"`
	Markdown bool   `json:"markdown,omitempty" jsonschema:"include the Markdown rendering"`
}

// ListReportsInput is the input schema for the list_reports tool.
type ListReportsInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"maximum number of reports to return (default 20)"`
	Offset int `json:"offset,omitempty" jsonschema:"number of reports to skip"`
}

// ListReportsOutput is the output schema for the list_reports tool.
type ListReportsOutput struct {
	Reports []ReportListItem `json:"reports"`
	Total   int64            `json:"total"`
}

// ReportListItem is one entry of list_reports.
type ReportListItem struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	AgeCategory string `json:"age_category"`
	HasFindings bool   `json:"has_findings"`
	CreatedAt   string `json:"created_at"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "interpret_counts",
		Description: "Interpret cervical cytology cell counts for a patient and archive the report",
	}, s.handleInterpretCounts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "classify_age",
		Description: "Map an age in days to its hormonal age category",
	}, s.handleClassifyAge)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "calculate_phase",
		Description: "Infer the menstrual cycle phase from the last menstrual period",
	}, s.handleCalculatePhase)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_report",
		Description: "Fetch an archived interpretation report by id",
	}, s.handleGetReport)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_reports",
		Description: "List archived interpretation reports, newest first",
	}, s.handleListReports)
}

func (s *Server) handleInterpretCounts(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InterpretCountsInput,
) (*mcp.CallToolResult, ReportOutput, error) {
	patient := &domain.PatientInput{
		AgeDays:        input.AgeDays,
		Condition:      input.Condition,
		Contraceptive:  input.Contraceptive,
		HormoneTherapy: input.HormoneTherapy,
	}
	if input.CycleLength != 0 {
		cycle := input.CycleLength
		patient.CycleLength = &cycle
	}
	if input.LMPDate != "" {
		lmp, err := parseDate("lmp_date", input.LMPDate)
		if err != nil {
			return nil, ReportOutput{}, err
		}
		patient.LMPDate = &lmp
	}

	record, err := s.reports.GenerateFromCounts(ctx, "mcp-"+uuid.New().String(), patient, input.Counts)
	if err != nil {
		return nil, ReportOutput{}, fmt.Errorf("interpreting counts: %w", err)
	}

	s.logger.WithField("report_id", record.ID).Debug("Interpreted counts via MCP")
	return nil, newReportOutput(record, false), nil
}

func (s *Server) handleClassifyAge(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ClassifyAgeInput,
) (*mcp.CallToolResult, ClassifyAgeOutput, error) {
	if input.AgeDays < 0 {
		return nil, ClassifyAgeOutput{}, domain.NewInvalidAgeError(input.AgeDays)
	}
	category := s.reports.Engine().Tables().ClassifyAge(input.AgeDays)
	return nil, ClassifyAgeOutput{
		AgeCategory: category.String(),
		Defined:     category != domain.AgeUndefined,
	}, nil
}

func (s *Server) handleCalculatePhase(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input CalculatePhaseInput,
) (*mcp.CallToolResult, CalculatePhaseOutput, error) {
	lmp, err := parseDate("lmp_date", input.LMPDate)
	if err != nil {
		return nil, CalculatePhaseOutput{}, err
	}

	today := s.reports.Engine().Today()
	if input.Today != "" {
		if today, err = parseDate("today", input.Today); err != nil {
			return nil, CalculatePhaseOutput{}, err
		}
	}

	cycle := input.CycleLength
	if cycle == 0 {
		cycle = domain.DefaultCycleLength
	}

	phase, err := service.CalculatePhase(lmp, today, cycle)
	if err != nil {
		return nil, CalculatePhaseOutput{}, err
	}
	return nil, CalculatePhaseOutput{Phase: string(phase), CycleLength: cycle}, nil
}

func (s *Server) handleGetReport(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetReportInput,
) (*mcp.CallToolResult, ReportOutput, error) {
	record, err := s.reports.GetReport(ctx, input.ID)
	if err != nil {
		return nil, ReportOutput{}, err
	}
	return nil, newReportOutput(record, input.Markdown), nil
}

func (s *Server) handleListReports(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListReportsInput,
) (*mcp.CallToolResult, ListReportsOutput, error) {
	records, total, err := s.reports.ListReports(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, ListReportsOutput{}, err
	}

	output := ListReportsOutput{
		Reports: make([]ReportListItem, len(records)),
		Total:   total,
	}
	for i, record := range records {
		output.Reports[i] = ReportListItem{
			ID:          record.ID,
			Summary:     render.Summary(record.Report),
			AgeCategory: record.Report.AgeCategory.String(),
			HasFindings: record.Report.HasFindings(),
			CreatedAt:   record.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return nil, output, nil
}

func newReportOutput(record *domain.ReportRecord, withMarkdown bool) ReportOutput {
	report := record.Report
	output := ReportOutput{
		ID:                   record.ID,
		Summary:              render.Summary(report),
		AgeCategory:          report.AgeCategory.String(),
		Phase:                string(report.Phase),
		MaturationIndex:      report.MaturationIndex.String(),
		ExpectedCells:        make([]string, len(report.ExpectedCells)),
		ExpectedCellsSource:  report.ExpectedCellsSource,
		NonMIFindings:        make(map[string]string, len(report.NonMIFindings)),
		NonMIPercentages:     make(map[string]float64, len(report.NonMIPercentages)),
		IUDDiagnosis:         report.IUDDiagnosis,
		ContraceptiveImpact:  report.ContraceptiveImpact,
		HormoneTherapyImpact: report.HormoneTherapyImpact,
		TotalCells:           report.TotalCells,
		Warnings:             report.Warnings,
		CreatedAt:            record.CreatedAt.UTC().Format(time.RFC3339),
	}
	copy(output.ExpectedCells, report.ExpectedCells)
	for code, finding := range report.NonMIFindings {
		output.NonMIFindings[string(code)] = finding
	}
	for code, percent := range report.NonMIPercentages {
		output.NonMIPercentages[string(code)] = percent
	}
	if withMarkdown {
		output.Markdown = render.Markdown(record)
	}
	return output
}

func parseDate(field, value string) (time.Time, error) {
	date, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "date must use the YYYY-MM-DD format", value)
	}
	return date, nil
}
