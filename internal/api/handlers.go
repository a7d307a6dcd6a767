package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/middleware"
	"github.com/cervicel-cytology-server/internal/render"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ReportResponse is the envelope returned for a generated or stored report.
type ReportResponse struct {
	ID               string            `json:"id"`
	Summary          string            `json:"summary"`
	Details          *domain.Report    `json:"details"`
	Counts           domain.CellCounts `json:"counts"`
	ImageCount       int               `json:"image_count"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ReportListResponse is a page of stored reports.
type ReportListResponse struct {
	Reports []ReportResponse `json:"reports"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// InterpretRequest interprets counts obtained elsewhere, without images.
type InterpretRequest struct {
	AgeDays        *int              `json:"age_days" binding:"required"`
	LMPDate        string            `json:"lmp_date"`
	CycleLength    *int              `json:"cycle_length"`
	Condition      string            `json:"condition"`
	Contraceptive  string            `json:"contraceptive"`
	HormoneTherapy string            `json:"hormone_therapy"`
	Counts         domain.CellCounts `json:"counts"`
}

func newReportResponse(record *domain.ReportRecord) ReportResponse {
	return ReportResponse{
		ID:               record.ID,
		Summary:          render.Summary(record.Report),
		Details:          record.Report,
		Counts:           record.Counts,
		ImageCount:       record.ImageCount,
		ProcessingTimeMs: record.ProcessingTimeMs,
		CreatedAt:        record.CreatedAt,
	}
}

// handleCreateReport classifies uploaded images and interprets the aggregated counts.
func (s *Server) handleCreateReport(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		s.writeBadRequest(c, "Expected a multipart form", err)
		return
	}

	input, err := patientInputFromForm(form)
	if err != nil {
		s.writeError(c, err)
		return
	}

	files := form.File["images"]
	if len(files) > s.reports.MaxImages() {
		s.writeError(c, domain.NewTooManyImagesError(len(files), s.reports.MaxImages()))
		return
	}

	images := make([]domain.Image, 0, len(files))
	for _, fh := range files {
		image, err := readImage(fh)
		if err != nil {
			s.writeBadRequest(c, fmt.Sprintf("Could not read image %s", fh.Filename), err)
			return
		}
		images = append(images, image)
	}

	record, err := s.reports.GenerateFromImages(c.Request.Context(), middleware.GetCorrelationID(c), input, images)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newReportResponse(record))
}

// handleInterpret interprets counts supplied as JSON.
func (s *Server) handleInterpret(c *gin.Context) {
	var req InterpretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBadRequest(c, "Invalid request body", err)
		return
	}

	input, err := buildPatientInput(*req.AgeDays, req.LMPDate, req.CycleLength, req.Condition, req.Contraceptive, req.HormoneTherapy)
	if err != nil {
		s.writeError(c, err)
		return
	}

	record, err := s.reports.GenerateFromCounts(c.Request.Context(), middleware.GetCorrelationID(c), input, req.Counts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newReportResponse(record))
}

// handleListReports returns archived reports, newest first.
func (s *Server) handleListReports(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		s.writeBadRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		s.writeBadRequest(c, "offset must be a non-negative integer", err)
		return
	}

	records, total, err := s.reports.ListReports(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := ReportListResponse{
		Reports: make([]ReportResponse, 0, len(records)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, record := range records {
		resp.Reports = append(resp.Reports, newReportResponse(record))
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetReport returns one report as JSON, Markdown or HTML.
func (s *Server) handleGetReport(c *gin.Context) {
	record, err := s.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	format := c.DefaultQuery("format", "json")
	if format == "json" {
		c.JSON(http.StatusOK, newReportResponse(record))
		return
	}

	body, contentType, err := render.Render(record, format)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, body)
}

func patientInputFromForm(form *multipart.Form) (*domain.PatientInput, error) {
	value := func(key string) string {
		if values := form.Value[key]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}

	rawAge := value("age")
	if rawAge == "" {
		return nil, domain.NewValidationError("age", "age in days is required", nil)
	}
	age, err := strconv.Atoi(rawAge)
	if err != nil {
		return nil, domain.NewValidationError("age", "age must be a whole number of days", rawAge)
	}

	var cycleLength *int
	if raw := value("cycle_length"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, domain.NewValidationError("cycle_length", "cycle length must be a whole number of days", raw)
		}
		cycleLength = &n
	}

	return buildPatientInput(age, value("lmp_date"), cycleLength, value("condition"), value("contraceptive"), value("hormone_therapy"))
}

func buildPatientInput(ageDays int, lmp string, cycleLength *int, condition, contraceptive, hormoneTherapy string) (*domain.PatientInput, error) {
	input := &domain.PatientInput{
		AgeDays:        ageDays,
		CycleLength:    cycleLength,
		Condition:      condition,
		Contraceptive:  contraceptive,
		HormoneTherapy: hormoneTherapy,
	}
	if lmp != "" {
		date, err := time.Parse(domain.DateLayout, lmp)
		if err != nil {
			return nil, domain.NewValidationError("lmp_date", "date must use the YYYY-MM-DD format", lmp)
		}
		input.LMPDate = &date
	}
	return input, nil
}

func readImage(fh *multipart.FileHeader) (domain.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Image{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Image{}, err
	}
	return domain.Image{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
