package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahel-hr/import-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, summary, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), string(model.RunStatusQueued), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs(string(model.RunStatusFailed), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedPlan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT plan FROM plan_cache`).
		WithArgs("unknown-digest").
		WillReturnError(pgx.ErrNoRows)

	plan, err := s.GetCachedPlan(context.Background(), "unknown-digest")
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCachedPlan_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(pgxmock.AnyArg(), "digest-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	plan := &model.ImportPlan{EntityTypes: []model.EntityTypePlan{{Key: "employees", Primary: true}}}
	err := s.SetCachedPlan(context.Background(), "digest-1", plan, 24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportRows_ReplacesScope(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "imported_rows" WHERE "run_id" = \$1 AND "entity_type" = \$2`).
		WithArgs("run-1", "salary_history").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"imported_rows"},
		[]string{"id", "run_id", "entity_type", "data", "imported_at"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	rows := []map[string]any{
		{"employee_number": "EMP001", "amount": "500000"},
		{"employee_number": "EMP002", "amount": "450000"},
	}
	err := s.ImportRows(context.Background(), "run-1", "salary_history", rows)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportRows_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.ImportRows(context.Background(), "run-1", "employees", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRunRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM imported_rows WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	require.NoError(t, s.DeleteRunRows(context.Background(), "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRejections_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"rejections"},
		[]string{"id", "run_id", "entity_type", "source_file", "source_sheet", "reason", "data", "created_at"}).
		WillReturnResult(1)

	err := s.SaveRejections(context.Background(), "run-1", []model.RejectedRecord{
		{EntityType: "salary_history", Data: map[string]any{"employee_number": "EMP999"}, Reason: "no match"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEmployee_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM employees WHERE employee_number = \$1`).
		WithArgs("EMP001").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO employees`).
		WithArgs(pgxmock.AnyArg(), "EMP001", "", "", "", "Jean Kouassi", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.UpsertEmployee(context.Background(), model.EntityIdentity{
		EmployeeNumber: "EMP001",
		FullName:       "Jean Kouassi",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEmployee_UpdateByNumber(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM employees WHERE employee_number = \$1`).
		WithArgs("EMP001").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("emp-1"))
	mock.ExpectExec(`UPDATE employees SET`).
		WithArgs("EMP001", "jean@acme.ci", "", "", "Jean Kouassi", pgxmock.AnyArg(), pgxmock.AnyArg(), "emp-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := s.UpsertEmployee(context.Background(), model.EntityIdentity{
		EmployeeNumber: "EMP001",
		Email:          "jean@acme.ci",
		FullName:       "Jean Kouassi",
	})
	require.NoError(t, err)
	assert.Equal(t, "emp-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEmployees(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, employee_number, email, national_id, phone, full_name, fields FROM employees`).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "employee_number", "email", "national_id", "phone", "full_name", "fields"}).
			AddRow("emp-1", strPtr("EMP001"), strPtr("jean@acme.ci"), nil, nil, strPtr("Jean Kouassi"), []byte(`{"department":"Finance"}`)))

	employees, err := s.ListEmployees(context.Background())
	require.NoError(t, err)
	require.Len(t, employees, 1)
	assert.Equal(t, "EMP001", employees[0].EmployeeNumber)
	assert.Equal(t, "", employees[0].NationalID)
	assert.Equal(t, "Finance", employees[0].Fields["department"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
