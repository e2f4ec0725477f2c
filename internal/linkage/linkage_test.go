package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahel-hr/import-cli/internal/index"
	"github.com/sahel-hr/import-cli/internal/model"
)

func population() *index.Index {
	return index.Build([]model.EntityIdentity{
		{ID: "emp-1", EmployeeNumber: "EMP001", Email: "jean.kouassi@acme.ci", FullName: "Jean Kouassi"},
		{ID: "emp-2", EmployeeNumber: "EMP002", FullName: "Awa Diabaté"},
	})
}

func mergedWith(fields map[string]any) model.MergedEntity {
	return model.MergedEntity{
		Data: fields,
		Provenance: model.Provenance{
			Sources: map[string]model.SourceRef{
				"amount": {File: "salaries.xlsx", Sheet: "2024"},
			},
		},
	}
}

func TestApply_LinksByEmployeeNumber(t *testing.T) {
	linked, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"employee_number": "EMP001", "amount": "500000"}),
	}, "salary_history", population())

	require.Len(t, linked, 1)
	assert.Empty(t, rejected)
	require.NotNil(t, linked[0].Linked)
	assert.Equal(t, "emp-1", linked[0].Linked.EntityID)
	assert.Equal(t, model.MatchEmployeeNumber, linked[0].Linked.Method)
	assert.Equal(t, 100, linked[0].Linked.Confidence)
}

func TestApply_LinksByNameTokenOrderAndDiacritics(t *testing.T) {
	// Scenario C: "KOUASSI Jean" in a leave sheet refers to "Jean Kouassi".
	linked, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"employee_name": "KOUASSI Jean", "days": "5"}),
	}, "leaves", population())

	require.Len(t, linked, 1)
	assert.Empty(t, rejected)
	assert.Equal(t, model.MatchName, linked[0].Linked.Method)
	assert.Equal(t, 75, linked[0].Linked.Confidence)

	// Diacritics are stripped before name comparison.
	linked, _ = Apply([]model.MergedEntity{
		mergedWith(map[string]any{"full_name": "awa diabate"}),
	}, "leaves", population())
	require.Len(t, linked, 1)
	assert.Equal(t, "emp-2", linked[0].Linked.EntityID)
}

func TestApply_UnknownEmployeeNumberRejected(t *testing.T) {
	// Scenario D: a salary row for EMP999 has nothing to attach to.
	linked, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"employee_number": "EMP999", "amount": "300000"}),
	}, "salary_history", population())

	assert.Empty(t, linked)
	require.Len(t, rejected, 1)
	r := rejected[0]
	assert.Equal(t, "salary_history", r.EntityType)
	assert.Contains(t, r.Reason, "EMP999")
	assert.Contains(t, r.Reason, "employee number")
	assert.Equal(t, "salaries.xlsx", r.SourceFile)
	assert.Equal(t, "2024", r.SourceSheet)
}

func TestApply_PeriodOnlyRowRejectedWithReason(t *testing.T) {
	_, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"period": "2024-06", "amount": "1000"}),
	}, "salary_history", population())

	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "period")
	assert.Contains(t, rejected[0].Reason, "2024-06")
}

func TestApply_NoIdentifierRejected(t *testing.T) {
	_, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"amount": "1000"}),
	}, "salary_history", population())

	require.Len(t, rejected, 1)
	assert.Equal(t, "no employee identifier present", rejected[0].Reason)
}

func TestApply_EveryEntityLandsInExactlyOneSet(t *testing.T) {
	entities := []model.MergedEntity{
		mergedWith(map[string]any{"employee_number": "EMP001", "amount": "1"}),
		mergedWith(map[string]any{"employee_number": "EMP999", "amount": "2"}),
		mergedWith(map[string]any{"full_name": "Jean Kouassi", "amount": "3"}),
		mergedWith(map[string]any{"amount": "4"}),
	}
	linked, rejected := Apply(entities, "salary_history", population())
	assert.Equal(t, len(entities), len(linked)+len(rejected))
}

func TestApply_FirstLastNameColumnsLink(t *testing.T) {
	linked, rejected := Apply([]model.MergedEntity{
		mergedWith(map[string]any{"prenom": "Jean", "nom": "Kouassi", "days": "2"}),
	}, "leaves", population())

	require.Len(t, linked, 1)
	assert.Empty(t, rejected)
	assert.Equal(t, "emp-1", linked[0].Linked.EntityID)
}
