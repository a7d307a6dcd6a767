package domain

import (
	"context"
)

// CellClassifier turns one smear image into per-class cell counts.
// Implementations must return non-negative counts.
type CellClassifier interface {
	Classify(ctx context.Context, image Image) (CellCounts, error)
}

// ReportStore defines the interface for report persistence
type ReportStore interface {
	// Save stores a report record, assigning CreatedAt when unset.
	Save(ctx context.Context, record *ReportRecord) error

	// Get returns the record with the given ID or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*ReportRecord, error)

	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]*ReportRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetClassifierConfig() *ClassifierConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
