package refindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/db"
	"github.com/sells-group/credcheck/internal/model"
)

// Postgres is a pgvector-backed index. Embeddings are stored as real[] so
// they can be bulk loaded with COPY, and cast to vector(dims) for ranking.
type Postgres struct {
	pool    db.Pool
	table   string
	dims    int
	closeFn func()
}

// OpenPostgres connects to connString with its own pool.
func OpenPostgres(ctx context.Context, connString, table string, dims int) (*Postgres, error) {
	if dims <= 0 {
		return nil, eris.New("refindex: postgres index requires dimensions")
	}
	pool, err := db.NewPool(ctx, connString, nil)
	if err != nil {
		return nil, eris.Wrap(err, "refindex: postgres open")
	}
	p := NewPostgres(pool, table, dims)
	p.closeFn = pool.Close
	return p, nil
}

// NewPostgres uses an existing pool. Close leaves a borrowed pool open.
func NewPostgres(pool db.Pool, table string, dims int) *Postgres {
	return &Postgres{pool: pool, table: table, dims: dims}
}

func (p *Postgres) ident() string {
	parts := strings.SplitN(p.table, ".", 2)
	return pgx.Identifier(parts).Sanitize()
}

func (p *Postgres) indexName() string {
	return pgx.Identifier{strings.ReplaceAll(p.table, ".", "_") + "_embedding_hnsw"}.Sanitize()
}

func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	embedding  REAL[] NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, p.ident()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw ((embedding::vector(%d)) vector_cosine_ops)`,
			p.indexName(), p.ident(), p.dims),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "refindex: postgres migrate")
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, records []Record) (int64, error) {
	if err := checkRecords(records, p.dims); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.ID, r.Text, r.Embedding, now})
	}

	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        p.table,
		Columns:      []string{"id", "content", "embedding", "updated_at"},
		ConflictKeys: []string{"id"},
		ChangeCols:   []string{"content", "embedding"},
	}, rows)
	return n, eris.Wrap(err, "refindex: postgres upsert")
}

func (p *Postgres) Query(ctx context.Context, vector []float32, k int) ([]model.ReferenceMatch, error) {
	if err := checkQuery(vector, k, p.dims); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, content, 1 - (embedding::vector(%[1]d) <=> $1::real[]::vector(%[1]d)) AS score
		 FROM %[2]s
		 ORDER BY embedding::vector(%[1]d) <=> $1::real[]::vector(%[1]d), id
		 LIMIT $2`,
		p.dims, p.ident())

	rows, err := p.pool.Query(ctx, query, vector, k)
	if err != nil {
		return nil, eris.Wrap(err, "refindex: postgres query")
	}
	defer rows.Close()

	var matches []model.ReferenceMatch
	for rows.Next() {
		var m model.ReferenceMatch
		if err := rows.Scan(&m.ID, &m.Text, &m.Score); err != nil {
			return nil, eris.Wrap(err, "refindex: postgres scan")
		}
		matches = append(matches, m)
	}
	return matches, eris.Wrap(rows.Err(), "refindex: postgres iterate")
}

func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.ident())).Scan(&n)
	return n, eris.Wrap(err, "refindex: postgres count")
}
