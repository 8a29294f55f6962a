package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/config"
	"github.com/sells-group/credcheck/internal/evaluation"
	"github.com/sells-group/credcheck/internal/llm"
	"github.com/sells-group/credcheck/internal/ocr"
	"github.com/sells-group/credcheck/internal/pipeline"
	"github.com/sells-group/credcheck/internal/refindex"
	"github.com/sells-group/credcheck/internal/store"
)

// evalEnv holds everything the evaluate, batch and serve commands need.
type evalEnv struct {
	Store        store.Store
	Index        refindex.Index
	Orchestrator *pipeline.Orchestrator
	Service      *evaluation.Service
}

// Close releases the index and store. The index goes first because it may
// borrow the store's handle.
func (e *evalEnv) Close() {
	if e.Index != nil {
		_ = e.Index.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// startupSeedPaths holds --seed values for evaluate, batch and serve.
var startupSeedPaths []string

func addSeedFlag(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&startupSeedPaths, "seed", nil,
		"reference record files or directories to embed into the index before starting")
}

// initEvaluation validates cfg for mode and builds the evaluation service.
// Callers should defer env.Close().
func initEvaluation(ctx context.Context, mode string) (*evalEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &evalEnv{Store: st}

	env.Index, err = initIndex(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}

	docs, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		env.Close()
		return nil, err
	}

	providers, err := llm.New(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}

	if err := seedAtStartup(ctx, providers.Embedder, env.Index, startupSeedPaths); err != nil {
		env.Close()
		return nil, err
	}

	env.Orchestrator, err = pipeline.New(pipeline.Collaborators{
		Documents: docs,
		Embedder:  providers.Embedder,
		Index:     env.Index,
		LLM:       providers.LLM,
	},
		pipeline.WithSettings(pipelineSettings(cfg.Pipeline)),
		pipeline.WithTracker(evaluation.NewStageTracker(st)),
	)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Service = evaluation.NewService(env.Orchestrator, st)

	zap.L().Info("evaluation pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("index", cfg.Index.Driver),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("ocr", cfg.OCR.Provider),
	)
	return env, nil
}

func pipelineSettings(pc config.PipelineConfig) pipeline.Settings {
	return pipeline.Settings{
		CallTimeout:    pc.CallTimeout(),
		ClassifierTopK: pc.ClassifierTopK,
		VerifierTopK:   pc.VerifierTopK,
		Scores: pipeline.ScorePolicy{
			ValidBase:   pc.ValidBaseScore,
			InvalidBase: pc.InvalidBaseScore,
		},
	}
}

// initStore opens and migrates the report store.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "credcheck.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initIndex opens and migrates the reference index, reusing the store's
// connection when both point at the same database.
func initIndex(ctx context.Context, st store.Store) (refindex.Index, error) {
	ic := cfg.Index
	table := ic.Table
	if table == "" {
		table = "reference_records"
	}

	var idx refindex.Index
	switch s := st.(type) {
	case *store.SQLiteStore:
		if ic.Driver == "sqlite" && ic.DatabaseURL == cfg.Store.DatabaseURL {
			idx = refindex.NewSQLite(s.DB(), table, ic.Dimensions)
		}
	case *store.PostgresStore:
		if ic.Driver == "postgres" && ic.DatabaseURL == cfg.Store.DatabaseURL {
			idx = refindex.NewPostgres(s.Pool(), table, ic.Dimensions)
		}
	}

	if idx == nil {
		var err error
		idx, err = refindex.Open(ctx, ic)
		if err != nil {
			return nil, err
		}
	} else {
		zap.L().Debug("reference index sharing store connection", zap.String("driver", ic.Driver))
	}

	if err := idx.Migrate(ctx); err != nil {
		_ = idx.Close()
		return nil, eris.Wrap(err, "migrate reference index")
	}
	return idx, nil
}

// seedAtStartup loads and embeds reference records from paths into idx. With
// no paths it only checks that a memory index is not left empty.
func seedAtStartup(ctx context.Context, emb refindex.Embedder, idx refindex.Index, paths []string) error {
	if len(paths) == 0 {
		if cfg.Index.Driver == "memory" {
			zap.L().Warn("memory reference index is empty; pass --seed PATH or use the sqlite or postgres driver")
		}
		return nil
	}

	records, err := refindex.LoadPaths(paths...)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return eris.Errorf("seed: no reference records found in %v", paths)
	}
	res, err := refindex.Seed(ctx, emb, idx, records, cfg.Index.SeedWorkers)
	if err != nil {
		return err
	}
	zap.L().Info("reference index seeded at startup",
		zap.Int("loaded", res.Loaded),
		zap.Int64("upserted", res.Upserted),
		zap.String("driver", cfg.Index.Driver),
	)
	return nil
}
