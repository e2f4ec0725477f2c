package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines the parameters for a scoped replace-load.
type ReplaceConfig struct {
	Table     string   // target table
	Columns   []string // columns being loaded
	ScopeCols []string // columns identifying the slice being replaced
	ScopeVals []any    // one value per scope column
}

// ReplaceRows atomically swaps one scope's rows: in a single transaction it
// deletes the rows matching the scope, then bulk-loads the replacement via
// COPY. Re-running the load for the same scope leaves exactly the new rows,
// never duplicates. An empty row set just clears the scope.
func ReplaceRows(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.ScopeCols) == 0 || len(cfg.ScopeCols) != len(cfg.ScopeVals) {
		return 0, eris.New("db: replace: scope columns and values must match")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx)

	where := make([]string, len(cfg.ScopeCols))
	for i, col := range cfg.ScopeCols {
		where[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s",
		pgx.Identifier{cfg.Table}.Sanitize(),
		strings.Join(where, " AND "),
	)
	if _, err := tx.Exec(ctx, deleteSQL, cfg.ScopeVals...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: clear scope in %s", cfg.Table)
	}

	var copied int64
	if len(rows) > 0 {
		copied, err = tx.CopyFrom(ctx, pgx.Identifier{cfg.Table}, cfg.Columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY into %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return copied, nil
}
