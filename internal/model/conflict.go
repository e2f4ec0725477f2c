package model

import "time"

// Severity ranks how much a field disagreement matters.
type Severity string

// Conflict severities.
const (
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ResolvedBy records who decided a conflict.
const (
	ResolvedByAuto   = "auto"
	ResolvedByOracle = "oracle"
	ResolvedByUser   = "user"
)

// ConflictSource is one source's observation of a disputed field.
type ConflictSource struct {
	SourceFile  string    `json:"source_file"`
	SourceSheet string    `json:"source_sheet"`
	Value       any       `json:"value"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ConflictResolution is the decision attached to a resolved FieldConflict.
type ConflictResolution struct {
	ChosenSource             string `json:"chosen_source"`
	ChosenValue              any    `json:"chosen_value"`
	Confidence               int    `json:"confidence"`
	RequiresUserConfirmation bool   `json:"requires_user_confirmation"`
	ResolvedBy               string `json:"resolved_by"`
	Reasoning                string `json:"reasoning,omitempty"`
}

// FieldConflict records a field whose normalized values disagree across at
// least two sources of the same record group. Conflicts live only for the
// duration of a run; the resolution outcome survives into the merged record.
type FieldConflict struct {
	ConflictID string              `json:"conflict_id"`
	EntityKey  string              `json:"entity_key"`
	Field      string              `json:"field"`
	Sources    []ConflictSource    `json:"sources"`
	Severity   Severity            `json:"severity"`
	Resolved   bool                `json:"resolved"`
	Resolution *ConflictResolution `json:"resolution,omitempty"`
}

// AutoResolvable reports whether a resolved conflict may bypass human review:
// low severity, confident decision, and no explicit confirmation request.
func (c FieldConflict) AutoResolvable() bool {
	return c.Resolved &&
		c.Resolution != nil &&
		c.Severity == SeverityLow &&
		c.Resolution.Confidence >= 80 &&
		!c.Resolution.RequiresUserConfirmation
}
