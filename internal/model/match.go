package model

// RecommendedAction advises what to do with a group that duplicates a
// pre-existing employee.
type RecommendedAction string

// Duplicate actions.
const (
	ActionUpdate  RecommendedAction = "update"
	ActionSkip    RecommendedAction = "skip"
	ActionAskUser RecommendedAction = "ask_user"
)

// DuplicateInfo annotates a RecordMatch that matches a pre-existing identity.
type DuplicateInfo struct {
	ExistingID        string            `json:"existing_id"`
	MatchMethod       MatchMethod       `json:"match_method"`
	Confidence        int               `json:"confidence"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}

// RecordMatch is a group of SourceRecords believed to describe one entity.
type RecordMatch struct {
	Records         []SourceRecord `json:"records"`
	MatchStrategy   MatchMethod    `json:"match_strategy,omitempty"`
	MatchConfidence int            `json:"match_confidence"`
	Duplicate       *DuplicateInfo `json:"duplicate,omitempty"`
}

// Sources returns the distinct (file, sheet) pairs contributing to the group.
func (m RecordMatch) Sources() []SourceRef {
	seen := make(map[SourceRef]bool, len(m.Records))
	var refs []SourceRef
	for _, r := range m.Records {
		ref := r.Ref()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}
