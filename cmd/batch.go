package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/credcheck/internal/evaluation"
	"github.com/sells-group/credcheck/internal/model"
)

var (
	batchManifest    string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate credential/resume pairs listed in a manifest",
	Long:  "Reads a YAML manifest of credential/resume pairs and evaluates them concurrently. Individual failures are reported but do not stop the batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pairs, err := loadManifest(batchManifest)
		if err != nil {
			return err
		}

		env, err := initEvaluation(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}

		sum, err := processBatch(ctx, pairs, batchLimit, concurrency, env.Service.Evaluate)
		if err != nil {
			return err
		}
		printBatchSummary(cmd.OutOrStdout(), sum)
		if sum.Failed > 0 {
			return eris.Errorf("batch: %d of %d evaluations failed", sum.Failed, sum.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "", "YAML manifest of credential/resume pairs")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of pairs to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel evaluations (default from batch.max_concurrent)")
	_ = batchCmd.MarkFlagRequired("manifest")
	addSeedFlag(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

// batchPair is one manifest entry.
type batchPair struct {
	Credential string `yaml:"credential"`
	Resume     string `yaml:"resume"`
}

type batchManifestFile struct {
	Pairs []batchPair `yaml:"pairs"`
}

// loadManifest reads pairs from path. Relative document paths resolve
// against the manifest's directory.
func loadManifest(path string) ([]batchPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read manifest")
	}

	var m batchManifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "parse manifest")
	}

	base := filepath.Dir(path)
	for i, p := range m.Pairs {
		p.Credential = strings.TrimSpace(p.Credential)
		p.Resume = strings.TrimSpace(p.Resume)
		if p.Credential == "" || p.Resume == "" {
			return nil, eris.Errorf("manifest entry %d: credential and resume are required", i+1)
		}
		if !filepath.IsAbs(p.Credential) {
			p.Credential = filepath.Join(base, p.Credential)
		}
		if !filepath.IsAbs(p.Resume) {
			p.Resume = filepath.Join(base, p.Resume)
		}
		m.Pairs[i] = p
	}
	return m.Pairs, nil
}

// evaluateFunc is the callback signature for evaluating one pair.
type evaluateFunc func(ctx context.Context, req evaluation.Request) (*model.Report, error)

// batchOutcome is the result of one pair.
type batchOutcome struct {
	Pair     batchPair
	ReportID string
	Result   *model.Result
	Err      error
}

type batchSummary struct {
	Total     int
	Succeeded int64
	Failed    int64
	Outcomes  []batchOutcome
}

// processBatch evaluates pairs with bounded concurrency. Per-pair failures
// are recorded in the summary rather than aborting the batch.
func processBatch(ctx context.Context, pairs []batchPair, limit, concurrency int, eval evaluateFunc) (*batchSummary, error) {
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	sum := &batchSummary{Total: len(pairs), Outcomes: make([]batchOutcome, len(pairs))}
	if len(pairs) == 0 {
		zap.L().Info("no pairs to evaluate")
		return sum, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("pairs", len(pairs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	for i, pair := range pairs {
		g.Go(func() error {
			log := zap.L().With(zap.String("credential", pair.Credential))
			out := batchOutcome{Pair: pair}

			report, err := eval(gctx, evaluation.Request{
				Files:          model.FilePaths{CredentialPath: pair.Credential, ResumePath: pair.Resume},
				CredentialName: filepath.Base(pair.Credential),
				ResumeName:     filepath.Base(pair.Resume),
			})
			if report != nil {
				out.ReportID = report.ID
				out.Result = report.Result
			}
			if err != nil {
				failed.Add(1)
				out.Err = err
				log.Error("evaluation failed", zap.String("report_id", out.ReportID), zap.Error(err))
			} else {
				succeeded.Add(1)
				log.Info("evaluation complete", zap.String("report_id", out.ReportID))
			}
			sum.Outcomes[i] = out
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	sum.Succeeded = succeeded.Load()
	sum.Failed = failed.Load()
	zap.L().Info("batch complete",
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}

func printBatchSummary(w io.Writer, sum *batchSummary) {
	for _, o := range sum.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "FAIL  %s  %s: %v\n", o.ReportID, o.Pair.Credential, o.Err)
		case o.Result != nil:
			fmt.Fprintf(w, "OK    %s  %s: %s score=%d flag=%s\n", o.ReportID, o.Pair.Credential,
				o.Result.ClassifierResult, o.Result.CredibilityResult.Score, o.Result.CredibilityResult.Flag)
		default:
			fmt.Fprintf(w, "OK    %s  %s\n", o.ReportID, o.Pair.Credential)
		}
	}
	fmt.Fprintf(w, "\n%d evaluated, %d succeeded, %d failed\n", sum.Total, sum.Succeeded, sum.Failed)
}
