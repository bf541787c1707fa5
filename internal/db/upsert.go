package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "organizations")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// BulkUpsert performs a bulk upsert in its own transaction. See BulkUpsertTx
// for the statement sequence.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (inserted, updated int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted, updated, err = BulkUpsertTx(ctx, tx, cfg, rows)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return inserted, updated, nil
}

// BulkUpsertTx performs a bulk upsert inside the caller's transaction:
//  1. creates a temp table shaped like the target
//  2. COPYs rows into it
//  3. drops in-batch duplicates, keeping the last row per conflict key
//  4. INSERT INTO target SELECT ... ON CONFLICT (keys) DO UPDATE SET ...
//
// The RETURNING clause distinguishes fresh inserts from updates, so re-running
// the same batch reports zero inserts. Callers that need extra statements in
// the same transaction (the organization path cascade does) use this form;
// everyone else goes through BulkUpsert.
func BulkUpsertTx(ctx context.Context, tx pgx.Tx, cfg UpsertConfig, rows [][]any) (inserted, updated int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, 0, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))
	tempIdent := pgx.Identifier{tempTable}.Sanitize()

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		tempIdent,
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	// Batches can repeat a key (overlapping pages, the same node reachable
	// through two trees). Keep the physically last row per key.
	var dupJoin []string
	for _, k := range cfg.ConflictKeys {
		key := pgx.Identifier{k}.Sanitize()
		dupJoin = append(dupJoin, fmt.Sprintf("a.%s = b.%s", key, key))
	}
	dedupSQL := fmt.Sprintf(
		"DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND %s",
		tempIdent, tempIdent, strings.Join(dupJoin, " AND "),
	)
	if _, err := tx.Exec(ctx, dedupSQL); err != nil {
		return 0, 0, eris.Wrapf(err, "db: upsert: dedup temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	conflictList := quoteAndJoin(cfg.ConflictKeys)

	var setClauses []string
	for _, col := range updateCols {
		ident := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	// xmax = 0 only on rows created by this statement.
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		tempIdent,
		conflictList,
		strings.Join(setClauses, ", "),
	)

	resultRows, err := tx.Query(ctx, upsertSQL)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	for resultRows.Next() {
		var fresh bool
		if err := resultRows.Scan(&fresh); err != nil {
			resultRows.Close()
			return 0, 0, eris.Wrapf(err, "db: upsert: scan result for %s", cfg.Table)
		}
		if fresh {
			inserted++
		} else {
			updated++
		}
	}
	resultRows.Close()
	if err := resultRows.Err(); err != nil {
		return 0, 0, eris.Wrapf(err, "db: upsert: iterate results for %s", cfg.Table)
	}

	return inserted, updated, nil
}

// sanitizeTable handles schema-qualified table names like "public.complaints".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
