package model

import "time"

// RunStatus tracks pipeline run lifecycle.
type RunStatus string

// Run statuses.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusPlanning  RunStatus = "planning"
	RunStatusMatching  RunStatus = "matching"
	RunStatusResolving RunStatus = "resolving"
	RunStatusMerging   RunStatus = "merging"
	RunStatusLinking   RunStatus = "linking"
	RunStatusImporting RunStatus = "importing"
	RunStatusComplete  RunStatus = "complete"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of the import pipeline.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EntityTypeResult aggregates the outcome for one entity type within a run.
type EntityTypeResult struct {
	EntityType        string           `json:"entity_type"`
	DisplayName       string           `json:"display_name,omitempty"`
	SourceRecords     int              `json:"source_records"`
	Merged            int              `json:"merged"`
	Linked            int              `json:"linked"`
	Rejected          int              `json:"rejected"`
	AutoResolved      int              `json:"auto_resolved"`
	ReviewRequired    int              `json:"review_required"`
	SkippedDuplicates int              `json:"skipped_duplicates"`
	AskUserDuplicates int              `json:"ask_user_duplicates"`
	HeldForReview     int              `json:"held_for_review"`
	Imported          bool             `json:"imported"`
	ImportError       string           `json:"import_error,omitempty"`
	ReviewConflicts   []FieldConflict  `json:"review_conflicts,omitempty"`
	Rejections        []RejectedRecord `json:"rejections,omitempty"`
}

// RunSummary is the persisted aggregate of a run.
type RunSummary struct {
	EntityTypes    []EntityTypeResult `json:"entity_types"`
	TotalLinked    int                `json:"total_linked"`
	TotalRejected  int                `json:"total_rejected"`
	AutoResolved   int                `json:"auto_resolved"`
	ReviewRequired int                `json:"review_required"`
	Partial        bool               `json:"partial"`
}

// Aggregate recomputes the summary totals from the per-type results.
func (s *RunSummary) Aggregate() {
	s.TotalLinked, s.TotalRejected, s.AutoResolved, s.ReviewRequired = 0, 0, 0, 0
	s.Partial = false
	for _, r := range s.EntityTypes {
		s.TotalLinked += r.Linked
		s.TotalRejected += r.Rejected
		s.AutoResolved += r.AutoResolved
		s.ReviewRequired += r.ReviewRequired
		if r.ImportError != "" {
			s.Partial = true
		}
	}
}

// ProgressEvent is one entry in the ordered progress stream consumed by the
// caller for operator feedback. Not persisted.
type ProgressEvent struct {
	Phase   string         `json:"phase"`
	Percent int            `json:"percent"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RunResult is the in-memory output of one pipeline run, including the merged
// and rejected records the summary only counts.
type RunResult struct {
	RunID       string                    `json:"run_id"`
	Summary     RunSummary                `json:"summary"`
	Merged      map[string][]MergedEntity `json:"-"`
	Rejected    []RejectedRecord          `json:"-"`
	Plan        *ImportPlan               `json:"-"`
	CompletedAt time.Time                 `json:"completed_at"`
}
