package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credcheck/internal/llm"
	"github.com/sells-group/credcheck/internal/refindex"
)

var seedWorkers int

var seedCmd = &cobra.Command{
	Use:   "seed PATH...",
	Short: "Load reference credentials into the similarity index",
	Long:  "Reads JSON or YAML reference records from files or directories, embeds each one, and upserts them into the reference index by id.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		records, err := refindex.LoadPaths(args...)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.New("seed: no reference records found")
		}

		idx, err := refindex.Open(ctx, cfg.Index)
		if err != nil {
			return err
		}
		defer idx.Close() //nolint:errcheck
		if err := idx.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate reference index")
		}

		providers, err := llm.New(ctx, cfg)
		if err != nil {
			return err
		}

		workers := seedWorkers
		if workers <= 0 {
			workers = cfg.Index.SeedWorkers
		}
		res, err := refindex.Seed(ctx, providers.Embedder, idx, records, workers)
		if err != nil {
			return err
		}

		total, err := idx.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records (%d loaded, %d unique) in %s; index holds %d\n",
			res.Upserted, res.Loaded, res.Unique, res.Duration.Round(1e6), total)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedWorkers, "workers", 0, "concurrent embedding requests (default from index.seed_workers)")
	rootCmd.AddCommand(seedCmd)
}
