package refindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credcheck/internal/model"
)

// SQLite keeps records in a SQLite table and ranks them in process. It
// suits reference sets of a few thousand records.
type SQLite struct {
	db    *sql.DB
	table string
	dims  int
	owned bool
}

// OpenSQLite opens its own handle on the database file at dsn.
func OpenSQLite(dsn, table string, dims int) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "refindex: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "refindex: sqlite exec %s", pragma)
		}
	}
	s := NewSQLite(db, table, dims)
	s.owned = true
	return s, nil
}

// NewSQLite uses an existing handle, typically the report store's. Close
// leaves a borrowed handle open.
func NewSQLite(db *sql.DB, table string, dims int) *SQLite {
	return &SQLite{db: db, table: table, dims: dims}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`, s.table))
	return eris.Wrap(err, "refindex: sqlite migrate")
}

func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Upsert(ctx context.Context, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := checkRecords(records, s.dims); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "refindex: sqlite begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, content, embedding, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, embedding = excluded.embedding, updated_at = excluded.updated_at`,
		s.table))
	if err != nil {
		return 0, eris.Wrap(err, "refindex: sqlite prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, encodeVector(r.Embedding), now); err != nil {
			return 0, eris.Wrapf(err, "refindex: sqlite upsert %s", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "refindex: sqlite commit")
	}
	return int64(len(records)), nil
}

func (s *SQLite) Query(ctx context.Context, vector []float32, k int) ([]model.ReferenceMatch, error) {
	if err := checkQuery(vector, k, s.dims); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, content, embedding FROM %s`, s.table))
	if err != nil {
		return nil, eris.Wrap(err, "refindex: sqlite query")
	}
	defer rows.Close() //nolint:errcheck

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Text, &blob); err != nil {
			return nil, eris.Wrap(err, "refindex: sqlite scan")
		}
		r.Embedding = decodeVector(blob)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "refindex: sqlite iterate")
	}
	return topK(records, vector, k), nil
}

func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, eris.Wrap(err, "refindex: sqlite count")
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
