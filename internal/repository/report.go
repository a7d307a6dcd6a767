package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
)

// ReportRepository handles report persistence in PostgreSQL.
// It implements domain.ReportStore.
type ReportRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool, logger *logrus.Logger) *ReportRepository {
	return &ReportRepository{
		db:  db,
		log: logger,
	}
}

const reportColumns = `id, request_id, input, counts, image_count, report, processing_time_ms, created_at`

// Save inserts a new report record.
func (r *ReportRepository) Save(ctx context.Context, record *domain.ReportRecord) error {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.NewValidationError("id", "report id must be a UUID", record.ID)
	}
	if record.Report == nil {
		return domain.NewValidationError("report", "report is required", nil)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("marshaling input: %w", err)
	}
	countsJSON, err := json.Marshal(record.Counts)
	if err != nil {
		return fmt.Errorf("marshaling counts: %w", err)
	}
	reportJSON, err := json.Marshal(record.Report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, request_id, age_days, age_category, has_findings,
			input, counts, image_count, report, processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = r.db.Exec(ctx, query,
		id,
		record.RequestID,
		record.Input.AgeDays,
		string(record.Report.AgeCategory),
		record.Report.HasFindings(),
		inputJSON,
		countsJSON,
		record.ImageCount,
		reportJSON,
		record.ProcessingTimeMs,
		record.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id":  record.ID,
			"request_id": record.RequestID,
			"error":      err,
		}).Error("Failed to create report")
		return fmt.Errorf("creating report: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"report_id":    record.ID,
		"age_category": record.Report.AgeCategory.String(),
		"has_findings": record.Report.HasFindings(),
	}).Debug("Report created successfully")

	return nil
}

// Get retrieves a report by its ID
func (r *ReportRepository) Get(ctx context.Context, id string) (*domain.ReportRecord, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}

	row := r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, parsed)
	record, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"report_id": id,
			"error":     err,
		}).Error("Failed to get report by ID")
		return nil, fmt.Errorf("getting report by ID: %w", err)
	}
	return record, nil
}

// List returns reports, newest first.
func (r *ReportRepository) List(ctx context.Context, limit, offset int) ([]*domain.ReportRecord, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.ReportRecord, 0)
	for rows.Next() {
		record, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return records, nil
}

// Count returns the number of stored reports.
func (r *ReportRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reports`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting reports: %w", err)
	}
	return count, nil
}

// Delete removes a report by ID.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM reports WHERE id = $1`, parsed)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("report_id", id).Info("Report deleted")
	return nil
}

// Close is a no-op; the pool is owned by database.DB.
func (r *ReportRepository) Close() error {
	return nil
}

func scanReport(row pgx.Row) (*domain.ReportRecord, error) {
	var (
		record                            domain.ReportRecord
		id                                uuid.UUID
		inputJSON, countsJSON, reportJSON []byte
	)

	err := row.Scan(
		&id,
		&record.RequestID,
		&inputJSON,
		&countsJSON,
		&record.ImageCount,
		&reportJSON,
		&record.ProcessingTimeMs,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.String()

	if err := json.Unmarshal(inputJSON, &record.Input); err != nil {
		return nil, fmt.Errorf("unmarshaling input: %w", err)
	}
	if err := json.Unmarshal(countsJSON, &record.Counts); err != nil {
		return nil, fmt.Errorf("unmarshaling counts: %w", err)
	}
	record.Report = &domain.Report{}
	if err := json.Unmarshal(reportJSON, record.Report); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	return &record, nil
}
