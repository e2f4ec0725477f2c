package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sahel-hr/import-cli/internal/model"
)

func testResult() *model.RunResult {
	return &model.RunResult{
		RunID: "run-1",
		Merged: map[string][]model.MergedEntity{
			"employees": {
				{
					Data:       map[string]any{"employee_number": "EMP001", "full_name": "Jean Kouassi"},
					Provenance: model.Provenance{Completeness: 85},
				},
			},
			"salary_history": {
				{
					Data:   map[string]any{"employee_number": "EMP001", "amount": "500000"},
					Linked: &model.LinkedEntity{EntityID: "emp-1", Method: model.MatchEmployeeNumber, Confidence: 100},
					Provenance: model.Provenance{
						Completeness: 100,
						Conflicts: []model.FieldConflict{
							{Field: "amount", Severity: model.SeverityMedium, Resolved: true,
								Resolution: &model.ConflictResolution{Confidence: 90}},
						},
					},
				},
			},
		},
		Rejected: []model.RejectedRecord{
			{
				EntityType: "salary_history",
				Data:       map[string]any{"employee_number": "EMP999", "amount": "300000"},
				SourceFile: "salaries.xlsx",
				Reason:     `no employee matches employee number "EMP999"`,
			},
		},
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Write(path, testResult()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	// Entity sheets come first, sorted, then the rejected sheet.
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "employees", f.Sheets[0].Name)
	assert.Equal(t, "salary_history", f.Sheets[1].Name)
	assert.Equal(t, "rejected", f.Sheets[2].Name)

	employees := f.Sheets[0]
	require.Len(t, employees.Rows, 2)
	header := cellValues(employees.Rows[0])
	assert.Equal(t, []string{"employee_number", "full_name", colCompleteness, colLinkedTo, colConflicts}, header)
	row := cellValues(employees.Rows[1])
	assert.Equal(t, "EMP001", row[0])
	assert.Equal(t, "85", row[2])

	salaries := f.Sheets[1]
	row = cellValues(salaries.Rows[1])
	// amount sorts before employee_number.
	assert.Equal(t, "500000", row[0])
	assert.Equal(t, "100", row[2])
	assert.Equal(t, "emp-1", row[3])
	// A resolved medium conflict still counts as open.
	assert.Equal(t, "1", row[4])
}

func TestWrite_RejectedSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Write(path, testResult()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	rejected := f.Sheets[2]
	require.Len(t, rejected.Rows, 2)
	header := cellValues(rejected.Rows[0])
	assert.Equal(t, []string{"entity_type", "source_file", "source_sheet", "reason", "amount", "employee_number"}, header)
	row := cellValues(rejected.Rows[1])
	assert.Equal(t, "salary_history", row[0])
	assert.Contains(t, row[3], "EMP999")
}

func TestWrite_NoRejectedSheetWhenClean(t *testing.T) {
	result := testResult()
	result.Rejected = nil
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Write(path, result))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	for _, s := range f.Sheets {
		assert.NotEqual(t, "rejected", s.Name)
	}
}

func cellValues(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}
