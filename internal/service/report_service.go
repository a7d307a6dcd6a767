package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
)

// ReportServiceConfig holds request-boundary limits for report generation.
type ReportServiceConfig struct {
	MaxImages           int
	AllowPartialResults bool
}

// ReportService turns patient data and smear images into archived interpretation reports.
type ReportService struct {
	engine     *CytologyRuleEngine
	aggregator *CountAggregator
	store      domain.ReportStore
	logger     *logrus.Logger
	config     ReportServiceConfig
}

// NewReportService creates a new report service. A nil store disables archiving.
func NewReportService(
	engine *CytologyRuleEngine,
	aggregator *CountAggregator,
	store domain.ReportStore,
	logger *logrus.Logger,
	config ReportServiceConfig,
) *ReportService {
	if config.MaxImages <= 0 || config.MaxImages > domain.MaxImagesPerCase {
		config.MaxImages = domain.MaxImagesPerCase
	}
	return &ReportService{
		engine:     engine,
		aggregator: aggregator,
		store:      store,
		logger:     logger,
		config:     config,
	}
}

// Engine returns the rule engine backing the service.
func (s *ReportService) Engine() *CytologyRuleEngine {
	return s.engine
}

// MaxImages returns the per-case image limit in effect.
func (s *ReportService) MaxImages() int {
	return s.config.MaxImages
}

// GenerateFromImages classifies the images, aggregates their counts and interprets the
// totals. Patient data is validated before any image reaches the classifier.
func (s *ReportService) GenerateFromImages(ctx context.Context, requestID string, input *domain.PatientInput, images []domain.Image) (*domain.ReportRecord, error) {
	startTime := time.Now()

	if err := s.validateImages(images); err != nil {
		return nil, err
	}
	if err := s.engine.validate(input, domain.CellCounts{}); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"images":     len(images),
		"age_days":   input.AgeDays,
	}).Info("Starting report generation")

	aggregated, err := s.aggregator.Aggregate(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("aggregating cell counts: %w", err)
	}

	var warnings []string
	if failed := aggregated.Err(); failed != nil {
		if !s.config.AllowPartialResults || aggregated.Succeeded == 0 {
			return nil, fmt.Errorf("classifying case images: %w", failed)
		}
		for _, f := range aggregated.Failures {
			warnings = append(warnings, fmt.Sprintf("image %d (%s) was not classified", f.Index, f.Filename))
		}
	}

	report, err := s.engine.Interpret(input, aggregated.Counts)
	if err != nil {
		return nil, err
	}
	report.Warnings = warnings

	record := &domain.ReportRecord{
		ID:               uuid.New().String(),
		RequestID:        requestID,
		Input:            *input,
		Counts:           aggregated.Counts,
		ImageCount:       len(images),
		Report:           report,
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	if err := s.archive(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GenerateFromCounts interprets counts that were produced outside the service.
func (s *ReportService) GenerateFromCounts(ctx context.Context, requestID string, input *domain.PatientInput, counts domain.CellCounts) (*domain.ReportRecord, error) {
	startTime := time.Now()

	report, err := s.engine.Interpret(input, counts)
	if err != nil {
		return nil, err
	}

	record := &domain.ReportRecord{
		ID:               uuid.New().String(),
		RequestID:        requestID,
		Input:            *input,
		Counts:           counts,
		Report:           report,
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	if err := s.archive(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetReport returns an archived report.
func (s *ReportService) GetReport(ctx context.Context, id string) (*domain.ReportRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return s.store.Get(ctx, id)
}

// ListReports returns a page of archived reports, newest first, and the total count.
func (s *ReportService) ListReports(ctx context.Context, limit, offset int) ([]*domain.ReportRecord, int64, error) {
	if s.store == nil {
		return []*domain.ReportRecord{}, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing reports: %w", err)
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("counting reports: %w", err)
	}
	return records, total, nil
}

func (s *ReportService) validateImages(images []domain.Image) error {
	if len(images) == 0 {
		return domain.NewNoImagesError()
	}
	if len(images) > s.config.MaxImages {
		return domain.NewTooManyImagesError(len(images), s.config.MaxImages)
	}
	return nil
}

func (s *ReportService) archive(ctx context.Context, record *domain.ReportRecord) error {
	record.CreatedAt = time.Now().UTC()
	if s.store == nil {
		return nil
	}

	if err := s.store.Save(ctx, record); err != nil {
		s.logger.WithError(err).WithField("report_id", record.ID).Error("Failed to archive report")
		return fmt.Errorf("archiving report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":          record.ID,
		"request_id":         record.RequestID,
		"age_category":       record.Report.AgeCategory.String(),
		"has_findings":       record.Report.HasFindings(),
		"processing_time_ms": record.ProcessingTimeMs,
	}).Info("Archived interpretation report")
	return nil
}

// IsValidationError reports whether err is a caller input failure.
func IsValidationError(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr)
}
