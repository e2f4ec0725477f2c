package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sahel-hr/import-cli/internal/db"
	"github.com/sahel-hr/import-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems needing direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS employees (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	employee_number TEXT,
	email           TEXT,
	national_id     TEXT,
	phone           TEXT,
	full_name       TEXT,
	fields          JSONB NOT NULL DEFAULT '{}',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS imported_rows (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	entity_type TEXT NOT NULL,
	data        JSONB NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rejections (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	entity_type  TEXT NOT NULL,
	source_file  TEXT,
	source_sheet TEXT,
	reason       TEXT NOT NULL,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plan_cache (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cache_key  TEXT NOT NULL UNIQUE,
	plan       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_number ON employees(employee_number) WHERE employee_number IS NOT NULL AND employee_number != '';
CREATE INDEX IF NOT EXISTS idx_employees_email ON employees(email);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_imported_rows_run_id ON imported_rows(run_id);
CREATE INDEX IF NOT EXISTS idx_rejections_run_id ON rejections(run_id);
CREATE INDEX IF NOT EXISTS idx_plan_cache_expires_at ON plan_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunSummary(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run summary %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var summaryNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if summaryNull != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var summaryNull *[]byte

		if err := rows.Scan(&r.ID, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if summaryNull != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListEmployees(ctx context.Context) ([]model.EntityIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, employee_number, email, national_id, phone, full_name, fields FROM employees`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list employees")
	}
	defer rows.Close()

	var employees []model.EntityIdentity
	for rows.Next() {
		var e model.EntityIdentity
		var number, email, nationalID, phone, fullName *string
		var fieldsJSON []byte
		if err := rows.Scan(&e.ID, &number, &email, &nationalID, &phone, &fullName, &fieldsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan employee")
		}
		e.EmployeeNumber = deref(number)
		e.Email = deref(email)
		e.NationalID = deref(nationalID)
		e.Phone = deref(phone)
		e.FullName = deref(fullName)
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal employee fields")
		}
		employees = append(employees, e)
	}
	return employees, eris.Wrap(rows.Err(), "postgres: list employees iterate")
}

// UpsertEmployee updates the existing row matched by employee number, then
// email, and inserts a fresh row when neither matches. Returns the row's id.
func (s *PostgresStore) UpsertEmployee(ctx context.Context, e model.EntityIdentity) (string, error) {
	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal employee fields")
	}
	now := time.Now().UTC()

	for _, key := range []struct{ column, value string }{
		{"employee_number", e.EmployeeNumber},
		{"email", e.Email},
	} {
		if key.value == "" {
			continue
		}
		var id string
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM employees WHERE `+key.column+` = $1`, key.value,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", eris.Wrap(err, "postgres: find employee")
		}

		_, err = s.pool.Exec(ctx,
			`UPDATE employees SET employee_number = $1, email = $2, national_id = $3, phone = $4, full_name = $5, fields = $6, updated_at = $7 WHERE id = $8`,
			e.EmployeeNumber, e.Email, e.NationalID, e.Phone, e.FullName, fieldsJSON, now, id,
		)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: update employee %s", id)
		}
		return id, nil
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO employees (id, employee_number, email, national_id, phone, full_name, fields, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, e.EmployeeNumber, e.Email, e.NationalID, e.Phone, e.FullName, fieldsJSON, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert employee")
	}
	return id, nil
}

// ImportRows bulk-loads a run's merged rows through the COPY protocol. The
// run's previous rows for the same entity type are replaced in the same
// transaction, so retrying an import never duplicates them.
func (s *PostgresStore) ImportRows(ctx context.Context, runID, entityType string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		dataJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal imported row")
		}
		copyRows = append(copyRows, []any{uuid.New().String(), runID, entityType, dataJSON, now})
	}

	_, err := db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Table:     "imported_rows",
		Columns:   []string{"id", "run_id", "entity_type", "data", "imported_at"},
		ScopeCols: []string{"run_id", "entity_type"},
		ScopeVals: []any{runID, entityType},
	}, copyRows)
	return eris.Wrapf(err, "postgres: import rows for %s", entityType)
}

func (s *PostgresStore) DeleteRunRows(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM imported_rows WHERE run_id = $1`, runID,
	)
	return eris.Wrapf(err, "postgres: delete rows for run %s", runID)
}

func (s *PostgresStore) SaveRejections(ctx context.Context, runID string, rejected []model.RejectedRecord) error {
	if len(rejected) == 0 {
		return nil
	}

	now := time.Now().UTC()
	copyRows := make([][]any, 0, len(rejected))
	for _, r := range rejected {
		dataJSON, err := json.Marshal(r.Data)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal rejected data")
		}
		copyRows = append(copyRows, []any{
			uuid.New().String(), runID, r.EntityType, r.SourceFile, r.SourceSheet, r.Reason, dataJSON, now,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "rejections",
		[]string{"id", "run_id", "entity_type", "source_file", "source_sheet", "reason", "data", "created_at"},
		copyRows,
	)
	return eris.Wrap(err, "postgres: save rejections")
}

func (s *PostgresStore) GetCachedPlan(ctx context.Context, key string) (*model.ImportPlan, error) {
	var planJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT plan FROM plan_cache
		 WHERE cache_key = $1 AND expires_at > now()
		 ORDER BY cached_at DESC LIMIT 1`,
		key,
	).Scan(&planJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached plan")
	}

	var plan model.ImportPlan
	if err := json.Unmarshal(planJSON, &plan); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached plan")
	}
	return &plan, nil
}

func (s *PostgresStore) SetCachedPlan(ctx context.Context, key string, plan *model.ImportPlan, ttl time.Duration) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO plan_cache (id, cache_key, plan, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cache_key) DO UPDATE SET plan = $3, cached_at = $4, expires_at = $5`,
		uuid.New().String(), key, planJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached plan")
}

func (s *PostgresStore) DeleteExpiredPlans(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM plan_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired plans")
	}
	return int(tag.RowsAffected()), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
