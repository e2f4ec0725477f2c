package store

import (
	"context"
	"time"

	"github.com/sahel-hr/import-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunSummary(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Employees: the system of record the index is built from.
	ListEmployees(ctx context.Context) ([]model.EntityIdentity, error)
	UpsertEmployee(ctx context.Context, e model.EntityIdentity) (string, error)

	// Imported data. DeleteRunRows compensates a run whose import stopped
	// partway with partial results disallowed.
	ImportRows(ctx context.Context, runID, entityType string, rows []map[string]any) error
	DeleteRunRows(ctx context.Context, runID string) error
	SaveRejections(ctx context.Context, runID string, rejected []model.RejectedRecord) error

	// Plan cache: classification results keyed by a digest of the sheet
	// summaries, so re-running the same workbooks skips the oracle.
	GetCachedPlan(ctx context.Context, key string) (*model.ImportPlan, error)
	SetCachedPlan(ctx context.Context, key string, plan *model.ImportPlan, ttl time.Duration) error
	DeleteExpiredPlans(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
