package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sahel-hr/import-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS employees (
	id              TEXT PRIMARY KEY,
	employee_number TEXT,
	email           TEXT,
	national_id     TEXT,
	phone           TEXT,
	full_name       TEXT,
	fields          TEXT NOT NULL DEFAULT '{}',
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS imported_rows (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	entity_type TEXT NOT NULL,
	data        TEXT NOT NULL,
	imported_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rejections (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	entity_type  TEXT NOT NULL,
	source_file  TEXT,
	source_sheet TEXT,
	reason       TEXT NOT NULL,
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plan_cache (
	id         TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL UNIQUE,
	plan       TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_number ON employees(employee_number) WHERE employee_number IS NOT NULL AND employee_number != '';
CREATE INDEX IF NOT EXISTS idx_employees_email ON employees(email);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_imported_rows_run_id ON imported_rows(run_id);
CREATE INDEX IF NOT EXISTS idx_rejections_run_id ON rejections(run_id);
CREATE INDEX IF NOT EXISTS idx_plan_cache_expires_at ON plan_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunSummary(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run summary %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListEmployees(ctx context.Context) ([]model.EntityIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, employee_number, email, national_id, phone, full_name, fields FROM employees`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list employees")
	}
	defer rows.Close()

	var employees []model.EntityIdentity
	for rows.Next() {
		var e model.EntityIdentity
		var number, email, nationalID, phone, fullName sql.NullString
		var fieldsJSON string
		if err := rows.Scan(&e.ID, &number, &email, &nationalID, &phone, &fullName, &fieldsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan employee")
		}
		e.EmployeeNumber = number.String
		e.Email = email.String
		e.NationalID = nationalID.String
		e.Phone = phone.String
		e.FullName = fullName.String
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal employee fields")
		}
		employees = append(employees, e)
	}
	return employees, eris.Wrap(rows.Err(), "sqlite: list employees iterate")
}

// UpsertEmployee updates the existing row matched by employee number, then
// email, and inserts a fresh row when neither matches. Returns the row's id.
func (s *SQLiteStore) UpsertEmployee(ctx context.Context, e model.EntityIdentity) (string, error) {
	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal employee fields")
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
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM employees WHERE `+key.column+` = ?`, key.value,
		).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", eris.Wrap(err, "sqlite: find employee")
		}

		_, err = s.db.ExecContext(ctx,
			`UPDATE employees SET employee_number = ?, email = ?, national_id = ?, phone = ?, full_name = ?, fields = ?, updated_at = ? WHERE id = ?`,
			e.EmployeeNumber, e.Email, e.NationalID, e.Phone, e.FullName, string(fieldsJSON), now, id,
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: update employee %s", id)
		}
		return id, nil
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO employees (id, employee_number, email, national_id, phone, full_name, fields, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.EmployeeNumber, e.Email, e.NationalID, e.Phone, e.FullName, string(fieldsJSON), now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert employee")
	}
	return id, nil
}

func (s *SQLiteStore) ImportRows(ctx context.Context, runID, entityType string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin import tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO imported_rows (id, run_id, entity_type, data, imported_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare import")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range rows {
		dataJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal imported row")
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), runID, entityType, string(dataJSON), now); err != nil {
			return eris.Wrapf(err, "sqlite: insert imported row for %s", entityType)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit import tx")
}

func (s *SQLiteStore) DeleteRunRows(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM imported_rows WHERE run_id = ?`, runID,
	)
	return eris.Wrapf(err, "sqlite: delete rows for run %s", runID)
}

func (s *SQLiteStore) SaveRejections(ctx context.Context, runID string, rejected []model.RejectedRecord) error {
	if len(rejected) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin rejections tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range rejected {
		dataJSON, err := json.Marshal(r.Data)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal rejected data")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rejections (id, run_id, entity_type, source_file, source_sheet, reason, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, r.EntityType, r.SourceFile, r.SourceSheet, r.Reason, string(dataJSON), now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert rejection")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit rejections tx")
}

func (s *SQLiteStore) GetCachedPlan(ctx context.Context, key string) (*model.ImportPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT plan FROM plan_cache
		 WHERE cache_key = ? AND expires_at > datetime('now')
		 ORDER BY cached_at DESC LIMIT 1`,
		key,
	)

	var planJSON string
	err := row.Scan(&planJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached plan")
	}

	var plan model.ImportPlan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached plan")
	}
	return &plan, nil
}

func (s *SQLiteStore) SetCachedPlan(ctx context.Context, key string, plan *model.ImportPlan, ttl time.Duration) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_cache (id, cache_key, plan, cached_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET plan = excluded.plan, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		uuid.New().String(), key, string(planJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached plan")
}

func (s *SQLiteStore) DeleteExpiredPlans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plan_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired plans")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
