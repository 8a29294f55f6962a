// Package evaluation runs the credential pipeline for a document pair and
// records the outcome as a report.
package evaluation

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
	"github.com/sells-group/credcheck/internal/pipeline"
	"github.com/sells-group/credcheck/internal/store"
)

// Runner executes one pipeline run under a caller-chosen id.
type Runner interface {
	RunWithID(ctx context.Context, runID string, paths model.FilePaths) (*pipeline.Run, error)
}

// Request describes one document pair to evaluate.
type Request struct {
	Files          model.FilePaths
	CredentialName string
	ResumeName     string
}

// Service persists each evaluation as a report keyed by the run id.
type Service struct {
	runner Runner
	store  store.Store
}

// NewService wires a runner to a report store. The runner should carry a
// StageTracker over the same store so stage rows land under the report.
func NewService(runner Runner, st store.Store) *Service {
	return &Service{runner: runner, store: st}
}

// Evaluate runs the pipeline synchronously. The returned report reflects
// the final stored state. A failed run returns the failed report together
// with the run error.
func (s *Service) Evaluate(ctx context.Context, req Request) (*model.Report, error) {
	report, err := s.store.CreateReport(ctx, store.NewReport{
		Files:          req.Files,
		CredentialName: req.CredentialName,
		ResumeName:     req.ResumeName,
	})
	if err != nil {
		return nil, eris.Wrap(err, "evaluation: create report")
	}
	log := zap.L().With(zap.String("report_id", report.ID))

	if err := s.store.UpdateReportStatus(ctx, report.ID, model.ReportStatusProcessing); err != nil {
		return nil, eris.Wrap(err, "evaluation: mark processing")
	}

	run, runErr := s.runner.RunWithID(ctx, report.ID, req.Files)

	// Outcome writes must land even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	credType := credentialType(run)

	if runErr != nil {
		failure := &model.Failure{Kind: string(pipeline.KindOf(runErr)), Message: runErr.Error()}
		if run != nil && run.Failure != nil {
			failure = run.Failure
		}
		if err := s.store.FailReport(persistCtx, report.ID, credType, failure); err != nil {
			log.Error("evaluation: failed to record failure", zap.Error(err))
			return nil, eris.Wrap(err, "evaluation: fail report")
		}
		return s.reload(persistCtx, report.ID, runErr)
	}

	if run.State.Result == nil {
		return nil, eris.Errorf("evaluation: run %s completed without a result", run.ID)
	}
	if err := s.store.CompleteReport(persistCtx, report.ID, credType, run.State.Result); err != nil {
		return nil, eris.Wrap(err, "evaluation: complete report")
	}
	return s.reload(persistCtx, report.ID, nil)
}

func (s *Service) reload(ctx context.Context, id string, runErr error) (*model.Report, error) {
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "evaluation: reload report")
	}
	return report, runErr
}

func credentialType(run *pipeline.Run) model.Category {
	if run == nil || run.State.Classification == nil {
		return ""
	}
	return run.State.Classification.DocumentType
}

// StageTracker records each pipeline stage as a report stage row. Store
// errors are logged and never fail the run.
type StageTracker struct {
	store store.Store
}

// NewStageTracker returns a tracker writing to st.
func NewStageTracker(st store.Store) *StageTracker {
	return &StageTracker{store: st}
}

// Begin implements pipeline.Tracker.
func (t *StageTracker) Begin(ctx context.Context, runID string, stage pipeline.StageID) func(time.Duration, error) {
	log := zap.L().With(zap.String("report_id", runID), zap.String("stage", stage.String()))

	row, err := t.store.CreateStage(ctx, runID, stage.String())
	if err != nil {
		log.Warn("evaluation: failed to record stage start", zap.Error(err))
		return func(time.Duration, error) {}
	}

	return func(d time.Duration, stageErr error) {
		res := store.StageResult{Status: model.StageStatusCompleted, DurationMs: d.Milliseconds()}
		if stageErr != nil {
			res.Status = model.StageStatusFailed
			res.Error = stageErr.Error()
		}
		if err := t.store.CompleteStage(context.WithoutCancel(ctx), row.ID, res); err != nil {
			log.Warn("evaluation: failed to record stage result", zap.Error(err))
		}
	}
}
