package refindex

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embedder maps record text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SeedResult summarises a Seed call.
type SeedResult struct {
	Loaded   int
	Unique   int
	Upserted int64
	Duration time.Duration
}

// Seed embeds records concurrently and upserts them by id. Records that
// share an id collapse to the last one loaded. Any embedding failure
// aborts the seed before anything is written.
func Seed(ctx context.Context, emb Embedder, idx Index, records []Record, workers int) (*SeedResult, error) {
	start := time.Now()
	unique := Dedupe(records)
	res := &SeedResult{Loaded: len(records), Unique: len(unique)}
	if len(unique) == 0 {
		res.Duration = time.Since(start)
		return res, nil
	}
	if workers <= 0 {
		workers = 4
	}

	zap.L().Info("refindex: seeding reference records",
		zap.Int("loaded", res.Loaded),
		zap.Int("unique", res.Unique),
		zap.Int("workers", workers),
	)

	var embedded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range unique {
		g.Go(func() error {
			vec, err := emb.Embed(gctx, unique[i].Text)
			if err != nil {
				return eris.Wrapf(err, "refindex: embed record %s", unique[i].ID)
			}
			unique[i].Embedding = vec
			if n := embedded.Add(1); n%50 == 0 {
				zap.L().Debug("refindex: embedding progress", zap.Int64("embedded", n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n, err := idx.Upsert(ctx, unique)
	if err != nil {
		return nil, eris.Wrap(err, "refindex: seed upsert")
	}
	res.Upserted = n
	res.Duration = time.Since(start)

	zap.L().Info("refindex: seed complete",
		zap.Int64("upserted", n),
		zap.Int64("duration_ms", res.Duration.Milliseconds()),
	)
	return res, nil
}
