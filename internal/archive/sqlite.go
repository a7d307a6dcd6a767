package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cervicel-cytology-server/internal/domain"
)

// SQLiteStore implements domain.ReportStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite report archive.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// NewSQLiteStoreFromDB wraps an open database whose schema already exists.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `id, request_id, input, counts, image_count, report, processing_time_ms, created_at`

// scanRecord scans a row into a ReportRecord.
func scanRecord(s scanner) (*domain.ReportRecord, error) {
	record := &domain.ReportRecord{}
	var input, counts, report []byte

	err := s.Scan(
		&record.ID, &record.RequestID, &input, &counts,
		&record.ImageCount, &report, &record.ProcessingTimeMs, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(input, &record.Input); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	if err := json.Unmarshal(counts, &record.Counts); err != nil {
		return nil, fmt.Errorf("failed to decode counts: %w", err)
	}
	record.Report = &domain.Report{}
	if err := json.Unmarshal(report, record.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return record, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		request_id TEXT DEFAULT '',
		age_days INTEGER NOT NULL,
		age_category TEXT DEFAULT '',
		has_findings INTEGER NOT NULL DEFAULT 0,
		input TEXT NOT NULL,
		counts TEXT NOT NULL,
		image_count INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	CREATE INDEX IF NOT EXISTS idx_reports_age_category ON reports(age_category);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a report record.
func (s *SQLiteStore) Save(ctx context.Context, record *domain.ReportRecord) error {
	if record.ID == "" {
		return domain.NewValidationError("id", "report id is required", record.ID)
	}
	if record.Report == nil {
		return domain.NewValidationError("report", "report is required", nil)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	input, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	counts, err := json.Marshal(record.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode counts: %w", err)
	}
	report, err := json.Marshal(record.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, request_id, age_days, age_category, has_findings,
			input, counts, image_count, report, processing_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.RequestID,
		record.Input.AgeDays,
		string(record.Report.AgeCategory),
		record.Report.HasFindings(),
		string(input),
		string(counts),
		record.ImageCount,
		string(report),
		record.ProcessingTimeMs,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves a report record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM reports WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return record, nil
}

// List returns report records, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM reports
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.ReportRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// Count returns the total number of archived reports.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// Delete removes a report record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
