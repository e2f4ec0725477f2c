// Package oracle defines the classification oracle boundary: the one
// non-deterministic collaborator of the import engine. The deterministic
// core is tested with scripted implementations of this interface; the
// Anthropic-backed implementation lives alongside it.
package oracle

import (
	"context"

	"github.com/sahel-hr/import-cli/internal/model"
)

// Oracle is the semantic classification service consumed by the pipeline.
// Both operations may be slow and non-deterministic; callers bound them with
// timeouts and rate limits.
type Oracle interface {
	// PlanImport classifies sheets into entity types and returns the
	// entity-type grouping with target schemas and contributing sources.
	PlanImport(ctx context.Context, sheets []model.SheetSummary) (*model.ImportPlan, error)

	// ResolveConflict chooses a value for a detected field conflict.
	ResolveConflict(ctx context.Context, c model.FieldConflict, entityType, country string) (*model.ConflictResolution, error)
}
