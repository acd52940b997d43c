package store

import (
	"context"

	"github.com/sells-group/directory-cli/internal/model"
)

// CompanyFilter specifies criteria for listing stored companies.
type CompanyFilter struct {
	Batch  string `json:"batch,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Tuning controls how company batches are flushed to the backend.
type Tuning struct {
	// BatchSize is the number of records written per statement. Default: 500.
	BatchSize int
	// FlushConcurrency is how many batches may be in flight at once.
	// Only the Postgres backend flushes concurrently. Default: 4.
	FlushConcurrency int
}

func (t Tuning) withDefaults() Tuning {
	if t.BatchSize <= 0 {
		t.BatchSize = 500
	}
	if t.FlushConcurrency <= 0 {
		t.FlushConcurrency = 4
	}
	return t
}

// Store defines the persistence interface for acquired directory records.
type Store interface {
	// Companies
	UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error)
	CountCompanies(ctx context.Context) (int, error)
	ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error)

	// Ingest runs
	CreateIngestRun(ctx context.Context) (*model.IngestRun, error)
	CompleteIngestRun(ctx context.Context, runID string, report *model.RunReport, runErr error) error
	GetIngestRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
