// Package archive stores generated interpretation reports in a local SQLite file and
// moves them in and out as JSON or XLSX.
package archive

import (
	"context"
	"time"

	"github.com/cervicel-cytology-server/internal/domain"
)

// ExportVersion is written into every JSON export.
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of reports exported at once.
const maxExportLimit = 1000000

// Export represents the JSON export format.
type Export struct {
	Version    string                 `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Count      int                    `json:"count"`
	Reports    []*domain.ReportRecord `json:"reports"`
}

// Lister is the read side of a report store used by exporters.
type Lister interface {
	List(ctx context.Context, limit, offset int) ([]*domain.ReportRecord, error)
}
