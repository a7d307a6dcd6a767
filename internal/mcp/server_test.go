package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cervicel-cytology-server/internal/archive"
	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/service"
)

var testToday = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()

	store, err := archive.NewSQLiteStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := service.NewCytologyRuleEngine(logger, service.WithClock(func() time.Time { return testToday }))
	reports := service.NewReportService(engine, nil, store, logger, service.ReportServiceConfig{})

	server, err := NewServer(reports, logger)
	require.NoError(t, err)
	return server
}

func TestNewServer(t *testing.T) {
	logger, _ := test.NewNullLogger()

	server, err := NewServer(nil, logger)
	assert.ErrorIs(t, err, ErrMissingReportService)
	assert.Nil(t, server)

	assert.NotNil(t, newTestServer(t).HTTPHandler())
}

func TestServe_UnknownTransport(t *testing.T) {
	err := newTestServer(t).Serve(context.Background(), domain.MCPConfig{Transport: "grpc"})
	assert.ErrorContains(t, err, "unsupported MCP transport")
}

func TestServer_handleInterpretCounts(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)

	t.Run("interprets and archives", func(t *testing.T) {
		input := InterpretCountsInput{
			AgeDays:       9125,
			LMPDate:       "2024-06-09",
			Contraceptive: "progesterone",
			Counts:        domain.CellCounts{PC: 10, IC: 60, SC: 5, SM: 25},
		}
		_, output, err := server.handleInterpretCounts(ctx, nil, input)
		require.NoError(t, err)

		assert.NotEmpty(t, output.ID)
		assert.Equal(t, "reproductive", output.AgeCategory)
		// Day 6 of a 28-day cycle.
		assert.Equal(t, "proliferative", output.Phase)
		assert.Equal(t, []string{"predominantly intermediate"}, output.ExpectedCells)
		assert.Equal(t, "High squamous metaplastic cells: 25.00% (chronic inflammation/repair)", output.NonMIFindings["SM"])
		assert.Equal(t, 25.0, output.NonMIPercentages["SM"])
		assert.Equal(t, "Progesterone may increase intermediate cells.", output.ContraceptiveImpact)
		assert.Equal(t, 100, output.TotalCells)

		_, fetched, err := server.handleGetReport(ctx, nil, GetReportInput{ID: output.ID, Markdown: true})
		require.NoError(t, err)
		assert.Equal(t, output.ID, fetched.ID)
		assert.Contains(t, fetched.Markdown, "# Cervical cytology report")
	})

	t.Run("custom cycle length", func(t *testing.T) {
		input := InterpretCountsInput{AgeDays: 9125, LMPDate: "2024-05-27", CycleLength: 35, Counts: domain.CellCounts{IC: 10}}
		_, output, err := server.handleInterpretCounts(ctx, nil, input)
		require.NoError(t, err)
		// Day 19 of a 35-day cycle.
		assert.Equal(t, "secretory", output.Phase)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, _, err := server.handleInterpretCounts(ctx, nil, InterpretCountsInput{AgeDays: -5})
		assert.ErrorIs(t, err, domain.ErrInvalidAge)

		_, _, err = server.handleInterpretCounts(ctx, nil, InterpretCountsInput{AgeDays: 9125, LMPDate: "10/06/2024"})
		assert.Error(t, err)

		_, _, err = server.handleInterpretCounts(ctx, nil, InterpretCountsInput{AgeDays: 9125, CycleLength: -1})
		assert.ErrorIs(t, err, domain.ErrInvalidCycleLength)
	})
}

func TestServer_handleClassifyAge(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)

	tests := []struct {
		ageDays  int
		category string
		defined  bool
	}{
		{0, "newborn", true},
		{4000, "puberty", true},
		{5000, "undefined", false},
		{20000, "postmenopausal", true},
	}
	for _, tt := range tests {
		_, output, err := server.handleClassifyAge(ctx, nil, ClassifyAgeInput{AgeDays: tt.ageDays})
		require.NoError(t, err)
		assert.Equal(t, tt.category, output.AgeCategory, "age %d", tt.ageDays)
		assert.Equal(t, tt.defined, output.Defined)
	}

	_, _, err := server.handleClassifyAge(ctx, nil, ClassifyAgeInput{AgeDays: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAge)
}

func TestServer_handleCalculatePhase(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)

	_, output, err := server.handleCalculatePhase(ctx, nil, CalculatePhaseInput{LMPDate: "2024-06-13"})
	require.NoError(t, err)
	assert.Equal(t, "menstrual", output.Phase)
	assert.Equal(t, 28, output.CycleLength)

	_, output, err = server.handleCalculatePhase(ctx, nil, CalculatePhaseInput{LMPDate: "2024-01-01", Today: "2024-01-20"})
	require.NoError(t, err)
	assert.Equal(t, "secretory", output.Phase)

	_, _, err = server.handleCalculatePhase(ctx, nil, CalculatePhaseInput{LMPDate: "2024-06-13", CycleLength: -3})
	assert.Error(t, err)

	_, _, err = server.handleCalculatePhase(ctx, nil, CalculatePhaseInput{LMPDate: "2024-06-20"})
	assert.Error(t, err)
}

func TestServer_handleListReportsAndResource(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)

	_, output, err := server.handleListReports(ctx, nil, ListReportsInput{})
	require.NoError(t, err)
	assert.Empty(t, output.Reports)
	assert.Equal(t, int64(0), output.Total)

	_, created, err := server.handleInterpretCounts(ctx, nil, InterpretCountsInput{
		AgeDays: 20000,
		Counts:  domain.CellCounts{PC: 90, EM: 10},
	})
	require.NoError(t, err)

	_, output, err = server.handleListReports(ctx, nil, ListReportsInput{Limit: 5})
	require.NoError(t, err)
	require.Len(t, output.Reports, 1)
	assert.Equal(t, created.ID, output.Reports[0].ID)
	assert.True(t, output.Reports[0].HasFindings)

	result, err := server.handleReportResource(ctx, &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "cervicel://reports/" + created.ID},
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Contains(t, result.Contents[0].Text, "High endometrial cells")

	_, err = server.handleReportResource(ctx, &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "cervicel://reports/missing"},
	})
	assert.Error(t, err)

	_, _, err = server.handleGetReport(ctx, nil, GetReportInput{ID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExtractReportID(t *testing.T) {
	tests := map[string]string{
		"cervicel://reports/abc-123":   "abc-123",
		"cervicel://reports/":          "",
		"cervicel://reports/abc/extra": "",
		"file://reports/abc":           "",
		"":                             "",
	}
	for uri, expected := range tests {
		assert.Equal(t, expected, extractReportID(uri), uri)
	}
}
