package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "imported_rows", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{"run-1", "employees", `{"employee_number":"EMP001"}`},
		{"run-1", "employees", `{"employee_number":"EMP002"}`},
	}
	mock.ExpectCopyFrom(pgx.Identifier{"imported_rows"}, []string{"run_id", "entity_type", "data"}).
		WillReturnResult(2)

	n, err := CopyFrom(context.TODO(), mock, "imported_rows", []string{"run_id", "entity_type", "data"}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"imported_rows"}, []string{"run_id"}).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err = CopyFrom(context.TODO(), mock, "imported_rows", []string{"run_id"}, [][]any{{"run-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO imported_rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
