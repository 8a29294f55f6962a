package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/credcheck/internal/config"
	"github.com/sells-group/credcheck/internal/refindex"
	"github.com/sells-group/credcheck/internal/store"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "credcheck.db")
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dbPath},
		Index: config.IndexConfig{Driver: "sqlite", DatabaseURL: dbPath, Table: "reference_records", Dimensions: 3},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	withConfig(t, sqliteConfig(t))

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &store.SQLiteStore{}, st)

	// Migrated on open.
	reports, err := st.ListReports(context.Background(), store.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "mongo"}})

	_, err := initStore(context.Background())
	assert.ErrorContains(t, err, "unsupported store driver: mongo")
}

func TestInitIndex_SharesSQLiteHandle(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	idx, err := initIndex(ctx, st)
	require.NoError(t, err)
	sq, ok := idx.(*refindex.SQLite)
	require.True(t, ok)

	_, err = sq.Upsert(ctx, []refindex.Record{{ID: "a", Text: "{}", Embedding: []float32{1, 0, 0}}})
	require.NoError(t, err)

	// Closing a borrowed index leaves the store usable.
	require.NoError(t, idx.Close())
	_, err = st.ListReports(ctx, store.ReportFilter{})
	assert.NoError(t, err)
}

func TestInitIndex_SeparateDatabase(t *testing.T) {
	c := sqliteConfig(t)
	c.Index.DatabaseURL = filepath.Join(t.TempDir(), "refs.db")
	withConfig(t, c)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	idx, err := initIndex(ctx, st)
	require.NoError(t, err)
	defer idx.Close() //nolint:errcheck

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineSettings(t *testing.T) {
	s := pipelineSettings(config.PipelineConfig{
		CallTimeoutSecs:  12,
		ClassifierTopK:   7,
		VerifierTopK:     2,
		ValidBaseScore:   70,
		InvalidBaseScore: 10,
	})
	assert.Equal(t, 12*time.Second, s.CallTimeout)
	assert.Equal(t, 7, s.ClassifierTopK)
	assert.Equal(t, 2, s.VerifierTopK)
	assert.Equal(t, 70, s.Scores.ValidBase)
	assert.Equal(t, 10, s.Scores.InvalidBase)
}

func TestInitEvaluation_ValidatesConfig(t *testing.T) {
	c := sqliteConfig(t)
	c.LLM.Provider = "gemini"
	withConfig(t, c)

	_, err := initEvaluation(context.Background(), "evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")
}

type constEmbedder struct{ vec []float32 }

func (e constEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }

func TestSeedAtStartup_PopulatesMemoryIndex(t *testing.T) {
	withConfig(t, &config.Config{Index: config.IndexConfig{Driver: "memory", Dimensions: 3, SeedWorkers: 2}})
	path := filepath.Join(t.TempDir(), "licenses.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"license_number": "ML-1009", "name": "Dr. Jane Doe"},
  {"registration_number": "RN-77", "name": "John Roe"}
]`), 0o644))

	idx := refindex.NewMemory(3)
	ctx := context.Background()
	require.NoError(t, seedAtStartup(ctx, constEmbedder{vec: []float32{1, 0, 0}}, idx, []string{path}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSeedAtStartup_EmptyPathsWarnsForMemory(t *testing.T) {
	withConfig(t, &config.Config{Index: config.IndexConfig{Driver: "memory", Dimensions: 3}})
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	require.NoError(t, seedAtStartup(context.Background(), constEmbedder{}, refindex.NewMemory(3), nil))
	entries := logs.FilterMessageSnippet("--seed PATH").All()
	assert.Len(t, entries, 1)
}

func TestSeedAtStartup_NoRecords(t *testing.T) {
	withConfig(t, &config.Config{Index: config.IndexConfig{Driver: "memory", Dimensions: 3}})
	dir := t.TempDir()

	err := seedAtStartup(context.Background(), constEmbedder{}, refindex.NewMemory(3), []string{dir})
	assert.ErrorContains(t, err, "no reference records found")
}
