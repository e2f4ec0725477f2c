package model

// SheetSummary is the compact description of one sheet handed to the
// classification oracle: enough to classify without shipping every row.
type SheetSummary struct {
	File       string     `json:"file" yaml:"file"`
	Sheet      string     `json:"sheet" yaml:"sheet"`
	Headers    []string   `json:"headers" yaml:"headers"`
	SampleRows [][]string `json:"sample_rows,omitempty" yaml:"sample_rows,omitempty"`
	RowCount   int        `json:"row_count" yaml:"row_count"`
}

// EntityTypePlan describes one detected entity type: its display name, target
// schema, and the sources contributing records of that type.
type EntityTypePlan struct {
	Key            string      `json:"key" yaml:"key"`
	DisplayName    string      `json:"display_name" yaml:"display_name"`
	Primary        bool        `json:"primary" yaml:"primary"`
	RequiredFields []string    `json:"required_fields" yaml:"required_fields"`
	OptionalFields []string    `json:"optional_fields" yaml:"optional_fields"`
	Sources        []SourceRef `json:"sources" yaml:"sources"`
}

// ImportPlan is the oracle's entity-type grouping for one set of workbooks.
type ImportPlan struct {
	Country     string           `json:"country,omitempty" yaml:"country,omitempty"`
	EntityTypes []EntityTypePlan `json:"entity_types" yaml:"entity_types"`
}

// PrimaryType returns the plan's primary entity type, or nil when the plan
// has none.
func (p *ImportPlan) PrimaryType() *EntityTypePlan {
	for i := range p.EntityTypes {
		if p.EntityTypes[i].Primary {
			return &p.EntityTypes[i]
		}
	}
	return nil
}

// Ordered returns entity types in dependency order: the primary type first,
// the rest in plan order.
func (p *ImportPlan) Ordered() []EntityTypePlan {
	out := make([]EntityTypePlan, 0, len(p.EntityTypes))
	for _, et := range p.EntityTypes {
		if et.Primary {
			out = append(out, et)
		}
	}
	for _, et := range p.EntityTypes {
		if !et.Primary {
			out = append(out, et)
		}
	}
	return out
}

// HasSource reports whether the given (file, sheet) contributes to this type.
func (t EntityTypePlan) HasSource(ref SourceRef) bool {
	for _, s := range t.Sources {
		if s == ref {
			return true
		}
	}
	return false
}
