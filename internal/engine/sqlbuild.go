package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

const (
	// bulkDeleteThreshold is the batch size above which deletes collapse
	// into a single set-membership statement.
	bulkDeleteThreshold = 10
	// upsertChunkSize bounds rows per multi-VALUES statement so the
	// parameter count stays well under the protocol limit.
	upsertChunkSize = 500
)

// statement is one destination-bound SQL operation.
type statement struct {
	sql  string
	args []any
}

// batchColumns resolves the column set for an apply batch: the declared
// per-table schema when configured, otherwise the first row's columns in
// sorted order. Every row must match the resolved set exactly;
// heterogeneous batches are rejected, not silently coerced.
func batchColumns(spec models.TableSpec, rows models.TableSnapshot) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := spec.Columns
	if len(cols) == 0 {
		cols = make([]string, 0, len(rows[0]))
		for c := range rows[0] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
	}

	for _, row := range rows {
		if len(row) != len(cols) {
			key, _ := row.Key(spec.KeyField)
			return nil, &models.ColumnMismatchError{Table: spec.Name, Key: key, Expected: cols}
		}
		for _, c := range cols {
			if _, ok := row[c]; !ok {
				key, _ := row.Key(spec.KeyField)
				return nil, &models.ColumnMismatchError{Table: spec.Name, Key: key, Expected: cols}
			}
		}
	}
	return cols, nil
}

// buildUpserts renders rows as INSERT ... ON CONFLICT (key) DO UPDATE
// statements, chunked. Re-applying an already-applied row is a no-op,
// which is what makes a stale snapshot after a crash safe to re-diff.
func buildUpserts(spec models.TableSpec, rows models.TableSnapshot) ([]statement, error) {
	cols, err := batchColumns(spec, rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	quotedCols := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		quotedCols[i] = pgx.Identifier{c}.Sanitize()
		if c != spec.KeyField {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quotedCols[i], quotedCols[i]))
		}
	}

	conflict := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{spec.KeyField}.Sanitize(), strings.Join(updates, ", "))
	if len(updates) == 0 {
		// Key-only table: nothing to update on conflict.
		conflict = fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", pgx.Identifier{spec.KeyField}.Sanitize())
	}

	var stmts []statement
	for start := 0; start < len(rows); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(rows))
		chunk := rows[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			ph := make([]string, len(cols))
			for j := range cols {
				ph[j] = fmt.Sprintf("$%d", len(args)+j+1)
			}
			for _, c := range cols {
				args = append(args, row[c])
			}
			placeholders[i] = "(" + strings.Join(ph, ", ") + ")"
		}

		stmts = append(stmts, statement{
			sql: fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
				pgx.Identifier{spec.Destination()}.Sanitize(),
				strings.Join(quotedCols, ", "),
				strings.Join(placeholders, ", "),
				conflict),
			args: args,
		})
	}
	return stmts, nil
}

// buildDeletes renders deletes by key. Small batches delete row by row;
// above the threshold a single set-membership delete bounds the statement
// count on bulk drops.
func buildDeletes(spec models.TableSpec, rows models.TableSnapshot) []statement {
	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		if key, ok := row.Key(spec.KeyField); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	table := pgx.Identifier{spec.Destination()}.Sanitize()
	keyCol := pgx.Identifier{spec.KeyField}.Sanitize()

	if len(keys) > bulkDeleteThreshold {
		return []statement{{
			sql:  fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", table, keyCol),
			args: []any{keys},
		}}
	}

	stmts := make([]statement, 0, len(keys))
	for _, key := range keys {
		stmts = append(stmts, statement{
			sql:  fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, keyCol),
			args: []any{key},
		})
	}
	return stmts
}
