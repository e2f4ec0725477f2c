package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahel-hr/import-cli/internal/model"
)

var (
	jan2023 = time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	jun2024 = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
)

func record(file string, at time.Time, fields map[string]any) model.SourceRecord {
	return model.SourceRecord{
		SourceFile:  file,
		SourceSheet: "sheet1",
		DataType:    "employees",
		Fields:      fields,
		IngestedAt:  at,
	}
}

func TestBuild_MostRecentNonEmptyWins(t *testing.T) {
	group := model.RecordMatch{Records: []model.SourceRecord{
		record("old.xlsx", jan2023, map[string]any{"employee_number": "EMP001", "department": "Finance", "phone": "0102030405"}),
		record("new.xlsx", jun2024, map[string]any{"employee_number": "EMP001", "department": "Accounting", "phone": ""}),
	}}

	m := Build(group, nil, nil, nil)

	assert.Equal(t, "Accounting", m.Data["department"])
	// Empty values never displace an older non-empty one.
	assert.Equal(t, "0102030405", m.Data["phone"])
	assert.Equal(t, "new.xlsx", m.Provenance.Sources["department"].File)
	assert.Equal(t, "old.xlsx", m.Provenance.Sources["phone"].File)
}

func TestBuild_TieKeepsFirstArrival(t *testing.T) {
	group := model.RecordMatch{Records: []model.SourceRecord{
		record("a.xlsx", jan2023, map[string]any{"department": "Finance"}),
		record("b.xlsx", jan2023, map[string]any{"department": "Accounting"}),
	}}

	m := Build(group, nil, nil, nil)
	assert.Equal(t, "Finance", m.Data["department"])
	assert.Equal(t, "a.xlsx", m.Provenance.Sources["department"].File)
}

func TestBuild_ResolutionOverridesRecency(t *testing.T) {
	group := model.RecordMatch{Records: []model.SourceRecord{
		record("payroll_2023.xlsx", jan2023, map[string]any{"salary": "450000"}),
		record("payroll_2024.xlsx", jun2024, map[string]any{"salary": "500000"}),
	}}
	conflicts := []model.FieldConflict{{
		Field: "salary",
		Sources: []model.ConflictSource{
			{SourceFile: "payroll_2023.xlsx", SourceSheet: "sheet1", Value: "450000", ObservedAt: jan2023},
			{SourceFile: "payroll_2024.xlsx", SourceSheet: "sheet1", Value: "500000", ObservedAt: jun2024},
		},
	}}
	resolutions := map[string]*model.ConflictResolution{
		"salary": {ChosenSource: "payroll_2023.xlsx", ChosenValue: "450000", Confidence: 90, ResolvedBy: model.ResolvedByUser},
	}

	m := Build(group, resolutions, conflicts, nil)

	assert.Equal(t, "450000", m.Data["salary"])
	assert.Equal(t, model.SourceRef{File: "payroll_2023.xlsx", Sheet: "sheet1"}, m.Provenance.Sources["salary"])
	require.Len(t, m.Provenance.Conflicts, 1)
}

func TestCompleteness_WeightedBySchema(t *testing.T) {
	plan := &model.EntityTypePlan{
		Key:            "employees",
		RequiredFields: []string{"employee_number", "full_name"},
		OptionalFields: []string{"email", "phone"},
	}

	full := map[string]any{"employee_number": "EMP001", "full_name": "Jean Kouassi", "email": "j@x.ci", "phone": "0102"}
	assert.Equal(t, 100, completeness(full, plan))

	// All required, no optional: 70 + 0.
	requiredOnly := map[string]any{"employee_number": "EMP001", "full_name": "Jean Kouassi"}
	assert.Equal(t, 70, completeness(requiredOnly, plan))

	// Half required, half optional: 35 + 15.
	half := map[string]any{"employee_number": "EMP001", "email": "j@x.ci"}
	assert.Equal(t, 50, completeness(half, plan))

	assert.Equal(t, 0, completeness(map[string]any{}, plan))
}

func TestCompleteness_MonotonicInFilledFields(t *testing.T) {
	plan := &model.EntityTypePlan{
		RequiredFields: []string{"a", "b", "c"},
		OptionalFields: []string{"d", "e"},
	}
	data := map[string]any{}
	prev := completeness(data, plan)
	for _, f := range []string{"a", "b", "c", "d", "e"} {
		data[f] = "x"
		cur := completeness(data, plan)
		assert.GreaterOrEqual(t, cur, prev, "adding %s must not lower the score", f)
		prev = cur
	}
	assert.Equal(t, 100, prev)
}

func TestCompleteness_NoSchemaFallsBackToFraction(t *testing.T) {
	data := map[string]any{"a": "x", "b": "", "c": "y", "d": nil}
	assert.Equal(t, 50, completeness(data, nil))
	assert.Equal(t, 0, completeness(map[string]any{}, nil))
}

func TestBuild_Categories(t *testing.T) {
	group := model.RecordMatch{Records: []model.SourceRecord{
		record("a.xlsx", jan2023, map[string]any{
			"employee_number": "EMP001",
			"email":           "j@x.ci",
			"salary":          "500000",
			"hire_date":       "2020-01-01",
			"badge_color":     "blue",
		}),
	}}

	m := Build(group, nil, nil, nil)
	cats := m.Provenance.Categories
	assert.Equal(t, []string{"employee_number"}, cats["identity"])
	assert.Equal(t, []string{"email"}, cats["contact"])
	assert.Equal(t, []string{"salary"}, cats["compensation"])
	assert.Equal(t, []string{"hire_date"}, cats["employment"])
	assert.Equal(t, []string{"badge_color"}, cats["other"])
}

func TestBuild_ConflictFreeGroupHasNoConflicts(t *testing.T) {
	group := model.RecordMatch{Records: []model.SourceRecord{
		record("a.xlsx", jan2023, map[string]any{"salary": "500,000"}),
		record("b.xlsx", jun2024, map[string]any{"salary": "500000"}),
	}}

	m := Build(group, nil, nil, nil)
	assert.Empty(t, m.Provenance.Conflicts)
	// Recency still picks the newest representation.
	assert.Equal(t, "500000", m.Data["salary"])
}
