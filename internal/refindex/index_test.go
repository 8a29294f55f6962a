package refindex

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credcheck/internal/config"
)

func sampleRecords() []Record {
	return []Record{
		{ID: "ML-1009", Text: `{"license_number":"ML-1009"}`, Embedding: []float32{1, 0, 0}},
		{ID: "RN-77", Text: `{"registration_number":"RN-77"}`, Embedding: []float32{0, 1, 0}},
		{ID: "BC-3", Text: `{"certificate_id":"BC-3"}`, Embedding: []float32{0.7, 0.7, 0}},
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 1}))
}

func TestMemory_QueryRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	n, err := m.Upsert(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := m.Query(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ML-1009", got[0].ID)
	assert.Equal(t, "BC-3", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
	assert.Equal(t, `{"license_number":"ML-1009"}`, got[0].Text)
}

func TestMemory_QueryFewerThanK(t *testing.T) {
	m := NewMemory(3)
	_, err := m.Upsert(context.Background(), sampleRecords()[:1])
	require.NoError(t, err)

	got, err := m.Query(context.Background(), []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemory_EmptyIndex(t *testing.T) {
	got, err := NewMemory(0).Query(context.Background(), []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	_, err := m.Upsert(ctx, sampleRecords())
	require.NoError(t, err)

	_, err = m.Upsert(ctx, []Record{{ID: "RN-77", Text: "updated", Embedding: []float32{1, 0, 0}}})
	require.NoError(t, err)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	got, err := m.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	// Equal scores fall back to id order.
	assert.Equal(t, "ML-1009", got[0].ID)
	assert.Equal(t, "RN-77", got[1].ID)
	assert.Equal(t, "updated", got[1].Text)
}

func TestMemory_Validation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)

	_, err := m.Query(ctx, []float32{1, 0, 0}, 0)
	assert.Error(t, err)
	_, err = m.Query(ctx, nil, 1)
	assert.Error(t, err)
	_, err = m.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorContains(t, err, "index expects 3")

	_, err = m.Upsert(ctx, []Record{{ID: "x", Embedding: []float32{1}}})
	assert.ErrorContains(t, err, "record x has 1 dimensions")
	_, err = m.Upsert(ctx, []Record{{ID: "", Embedding: []float32{1, 2, 3}}})
	assert.ErrorContains(t, err, "without id")
	_, err = m.Upsert(ctx, []Record{{ID: "y"}})
	assert.ErrorContains(t, err, "no embedding")
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Upsert(ctx, sampleRecords())
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Query(ctx, []float32{1, 0, 0}, 3)
		}()
	}
	wg.Wait()

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func newTestSQLiteIndex(t *testing.T) *SQLite {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"), "reference_records", 3)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() }) //nolint:errcheck
	require.NoError(t, idx.Migrate(context.Background()))
	return idx
}

func TestSQLite_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := newTestSQLiteIndex(t)

	n, err := idx.Upsert(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := idx.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "RN-77", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)

	// Re-seeding the same ids does not grow the table.
	_, err = idx.Upsert(ctx, sampleRecords())
	require.NoError(t, err)
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	require.NoError(t, idx.Migrate(context.Background()))
}

func TestSQLite_QueryBeforeMigrate(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"), "reference_records", 3)
	require.NoError(t, err)
	defer idx.Close() //nolint:errcheck

	_, err = idx.Query(context.Background(), []float32{1, 0, 0}, 1)
	assert.ErrorContains(t, err, "refindex: sqlite query")
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3.14159, 0}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Empty(t, decodeVector(nil))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	idx, err := Open(ctx, config.IndexConfig{Driver: "memory", Dimensions: 3})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, idx)

	idx, err = Open(ctx, config.IndexConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db"), Dimensions: 3})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, idx)
	require.NoError(t, idx.Close())

	_, err = Open(ctx, config.IndexConfig{Driver: "faiss"})
	assert.ErrorContains(t, err, "unknown driver")

	_, err = Open(ctx, config.IndexConfig{Driver: "memory", Table: "bad; DROP TABLE x"})
	assert.ErrorContains(t, err, "invalid table name")

	_, err = Open(ctx, config.IndexConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/x"})
	assert.ErrorContains(t, err, "requires dimensions")
}

func newMockPostgresIndex(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgres(mock, "reference_records", 3), mock
}

func TestPostgres_Migrate(t *testing.T) {
	p, mock := newMockPostgresIndex(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).
		WillReturnResult(pgxmock.NewResult("CREATE EXTENSION", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "reference_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "reference_records_embedding_hnsw" ON "reference_records" USING hnsw \(\(embedding::vector\(3\)\) vector_cosine_ops\)`).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate_ExtensionMissing(t *testing.T) {
	p, mock := newMockPostgresIndex(t)

	mock.ExpectExec(`CREATE EXTENSION`).WillReturnError(errors.New(`extension "vector" is not available`))

	err := p.Migrate(context.Background())
	assert.ErrorContains(t, err, "refindex: postgres migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Query(t *testing.T) {
	p, mock := newMockPostgresIndex(t)
	vec := []float32{1, 0, 0}

	mock.ExpectQuery(`SELECT id, content, 1 - \(embedding::vector\(3\) <=> \$1::real\[\]::vector\(3\)\) AS score\s+FROM "reference_records"\s+ORDER BY`).
		WithArgs(vec, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "score"}).
			AddRow("ML-1009", `{"license_number":"ML-1009"}`, 0.98).
			AddRow("BC-3", `{"certificate_id":"BC-3"}`, 0.71))

	got, err := p.Query(context.Background(), vec, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ML-1009", got[0].ID)
	assert.InDelta(t, 0.98, got[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryError(t *testing.T) {
	p, mock := newMockPostgresIndex(t)

	mock.ExpectQuery(`SELECT id, content`).WillReturnError(errors.New("connection refused"))

	_, err := p.Query(context.Background(), []float32{1, 0, 0}, 1)
	assert.ErrorContains(t, err, "refindex: postgres query")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Upsert(t *testing.T) {
	p, mock := newMockPostgresIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_reference_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_reference_records"}, []string{"id", "content", "embedding", "updated_at"}).
		WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "reference_records" .* ON CONFLICT \("id"\) DO UPDATE SET .* WHERE t."content" IS DISTINCT FROM EXCLUDED."content" OR t."embedding" IS DISTINCT FROM EXCLUDED."embedding"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	n, err := p.Upsert(context.Background(), sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Count(t *testing.T) {
	p, mock := newMockPostgresIndex(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "reference_records"`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := p.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SchemaQualifiedTable(t *testing.T) {
	p := NewPostgres(nil, "refs.reference_records", 3)
	assert.Equal(t, `"refs"."reference_records"`, p.ident())
	assert.Equal(t, `"refs_reference_records_embedding_hnsw"`, p.indexName())
}
