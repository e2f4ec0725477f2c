package model

// LinkedEntity annotates a merged record with the employee it attached to.
type LinkedEntity struct {
	EntityID   string      `json:"entity_id"`
	Method     MatchMethod `json:"method"`
	Confidence int         `json:"confidence"`
}

// Provenance carries the field-level audit trail of a merged entity.
type Provenance struct {
	Sources      map[string]SourceRef `json:"sources"`
	Conflicts    []FieldConflict      `json:"conflicts,omitempty"`
	Completeness int                  `json:"completeness"`
	Categories   map[string][]string  `json:"categories,omitempty"`
}

// MergedEntity is the canonical record built from all sources of one
// RecordMatch. Read-only downstream of the merge builder.
type MergedEntity struct {
	Data       map[string]any `json:"data"`
	Provenance Provenance     `json:"provenance"`
	Linked     *LinkedEntity  `json:"linked,omitempty"`
}

// RejectedRecord is the terminal outcome for a non-primary record that could
// not be linked to any known employee. Never resolved later in the same run.
type RejectedRecord struct {
	EntityType  string         `json:"entity_type"`
	Data        map[string]any `json:"data"`
	SourceFile  string         `json:"source_file,omitempty"`
	SourceSheet string         `json:"source_sheet,omitempty"`
	Reason      string         `json:"reason"`
}
