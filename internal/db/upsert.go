package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed bulk write.
type UpsertConfig struct {
	Table        string   // may be schema-qualified, e.g. "refs.reference_records"
	Columns      []string // column order of every row
	ConflictKeys []string
	// UpdateCols are overwritten on conflict. nil means every non-key column.
	UpdateCols []string
	// ChangeCols, when set, restrict the conflict update to rows where at
	// least one of these columns differs, so reseeding identical records
	// leaves updated_at alone and is not counted.
	ChangeCols []string
}

// BulkUpsert copies rows into a transaction-scoped temp table and merges
// them into cfg.Table with INSERT ... ON CONFLICT. It returns the number of
// rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(rows); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := cfg.tempTable()
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(), sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy %d rows for %s", len(rows), cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL(temp))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func (c UpsertConfig) validate(rows [][]any) error {
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	known := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		known[col] = true
	}
	for _, group := range [][]string{c.ConflictKeys, c.UpdateCols, c.ChangeCols} {
		for _, col := range group {
			if !known[col] {
				return eris.Errorf("db: upsert: column %q is not in the column list", col)
			}
		}
	}
	for i, r := range rows {
		if len(r) != len(c.Columns) {
			return eris.Errorf("db: upsert: row %d has %d values, want %d", i, len(r), len(c.Columns))
		}
	}
	return nil
}

func (c UpsertConfig) updateCols() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = true
	}
	var out []string
	for _, col := range c.Columns {
		if !keys[col] {
			out = append(out, col)
		}
	}
	return out
}

func (c UpsertConfig) tempTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(c.Table, ".", "_")
}

// mergeSQL builds the INSERT ... SELECT ... ON CONFLICT statement.
func (c UpsertConfig) mergeSQL(temp string) string {
	target := sanitizeTable(c.Table)
	cols := quoteAndJoin(c.Columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		target, cols, cols, pgx.Identifier{temp}.Sanitize(), quoteAndJoin(c.ConflictKeys))

	update := c.updateCols()
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	set := make([]string, len(update))
	for i, col := range update {
		q := pgx.Identifier{col}.Sanitize()
		set[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
	}
	fmt.Fprintf(&b, " DO UPDATE SET %s", strings.Join(set, ", "))

	if len(c.ChangeCols) > 0 {
		diff := make([]string, len(c.ChangeCols))
		for i, col := range c.ChangeCols {
			q := pgx.Identifier{col}.Sanitize()
			diff[i] = fmt.Sprintf("t.%s IS DISTINCT FROM EXCLUDED.%s", q, q)
		}
		fmt.Fprintf(&b, " WHERE %s", strings.Join(diff, " OR "))
	}
	return b.String()
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
