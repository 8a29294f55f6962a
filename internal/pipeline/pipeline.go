package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
)

// RunStatus is the lifecycle state of an in-memory run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one evaluation of a document pair. It is owned by the caller once
// returned; persistence is the caller's job.
type Run struct {
	ID      string         `json:"id"`
	Status  RunStatus      `json:"status"`
	State   State          `json:"state"`
	Failure *model.Failure `json:"failure,omitempty"`
}

// Settings tunes stage behavior.
type Settings struct {
	CallTimeout    time.Duration
	ClassifierTopK int
	VerifierTopK   int
	Scores         ScorePolicy
}

// DefaultSettings returns the standard stage settings.
func DefaultSettings() Settings {
	return Settings{
		CallTimeout:    30 * time.Second,
		ClassifierTopK: 5,
		VerifierTopK:   1,
		Scores:         DefaultScorePolicy(),
	}
}

// Tracker observes stage executions. Begin is called before a stage runs;
// the returned func is called once it finishes.
type Tracker interface {
	Begin(ctx context.Context, runID string, stage StageID) func(d time.Duration, err error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings overrides the default stage settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithTracker attaches a stage tracker.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// withStage replaces the implementation of one stage.
func withStage(s Stage) Option {
	return func(o *Orchestrator) { o.overrides = append(o.overrides, s) }
}

// Orchestrator drives runs through the fixed stage graph. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	settings  Settings
	tracker   Tracker
	stages    map[StageID]Stage
	overrides []Stage
}

// New builds an Orchestrator over the given collaborators.
func New(c Collaborators, opts ...Option) (*Orchestrator, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{settings: DefaultSettings()}
	for _, opt := range opts {
		opt(o)
	}

	defaults := DefaultSettings()
	if o.settings.CallTimeout <= 0 {
		o.settings.CallTimeout = defaults.CallTimeout
	}
	if o.settings.ClassifierTopK <= 0 {
		o.settings.ClassifierTopK = defaults.ClassifierTopK
	}
	if o.settings.VerifierTopK <= 0 {
		o.settings.VerifierTopK = defaults.VerifierTopK
	}
	if o.settings.Scores.Inverted() {
		zap.L().Warn("pipeline: invalid verification base score is not below valid base score",
			zap.Int("valid_base", o.settings.Scores.ValidBase),
			zap.Int("invalid_base", o.settings.Scores.InvalidBase),
		)
	}

	o.stages = map[StageID]Stage{
		StageClassifier:  &classifier{c: c, cfg: o.settings},
		StageExtractor:   &extractor{c: c, cfg: o.settings},
		StageVerifier:    &verifier{c: c, cfg: o.settings},
		StageCrosscheck:  &crosschecker{c: c, cfg: o.settings},
		StageCredibility: &credibilityScorer{c: c, cfg: o.settings},
		StageFormatter:   formatter{},
	}
	for _, s := range o.overrides {
		o.stages[s.ID()] = s
	}
	return o, nil
}

// Settings returns the effective stage settings.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// Run evaluates one document pair under a fresh run ID.
func (o *Orchestrator) Run(ctx context.Context, paths model.FilePaths) (*Run, error) {
	return o.RunWithID(ctx, uuid.New().String(), paths)
}

// RunWithID evaluates one document pair. The returned Run is always non-nil;
// on failure its status is failed and the error is a *StageError.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, paths model.FilePaths) (*Run, error) {
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting evaluation",
		zap.String("credential_path", paths.CredentialPath),
		zap.String("resume_path", paths.ResumePath),
	)

	run := &Run{ID: runID, Status: RunRunning, State: NewState(paths)}
	start := time.Now()

	for id := StageClassifier; id != stageNone; id = next(id, run.State) {
		if err := o.step(ctx, run, id, log); err != nil {
			run.Status = RunFailed
			run.Failure = &model.Failure{
				Stage:   id.String(),
				Kind:    string(KindOf(err)),
				Message: err.Error(),
			}
			log.Error("pipeline: evaluation failed",
				zap.String("stage", id.String()),
				zap.String("kind", run.Failure.Kind),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Error(err),
			)
			return run, &StageError{Stage: id, Err: err}
		}
	}

	run.Status = RunCompleted
	log.Info("pipeline: evaluation complete",
		zap.String("classifier_result", string(run.State.Result.ClassifierResult)),
		zap.Int("credibility_score", run.State.Result.CredibilityResult.Score),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return run, nil
}

// step executes one stage against the run and merges its delta.
func (o *Orchestrator) step(ctx context.Context, run *Run, id StageID, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stage, ok := o.stages[id]
	if !ok {
		return eris.Errorf("pipeline: no stage registered for %s", id)
	}

	if missing := run.State.Missing(stage.Requires()); len(missing) > 0 {
		return &PreconditionError{Stage: id, Missing: missing}
	}

	var finish func(time.Duration, error)
	if o.tracker != nil {
		finish = o.tracker.Begin(ctx, run.ID, id)
	}

	started := time.Now()
	delta, err := stage.Execute(ctx, run.State)
	if err == nil {
		err = checkDelta(stage, delta)
	}
	if err == nil {
		run.State, err = Merge(run.State, delta)
	}
	elapsed := time.Since(started)

	if finish != nil {
		finish(elapsed, err)
	}
	if err != nil {
		return err
	}

	log.Debug("pipeline: stage complete",
		zap.String("stage", id.String()),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return nil
}

// checkDelta verifies a delta holds exactly the groups the stage produces.
func checkDelta(stage Stage, delta Delta) error {
	declared := make(map[FieldGroup]bool, len(stage.Produces()))
	for _, g := range stage.Produces() {
		declared[g] = true
	}
	for _, g := range delta.Groups() {
		if !declared[g] {
			return &ConflictError{Group: g, Reason: "not produced by " + stage.ID().String()}
		}
	}
	for g := range declared {
		if !delta.Has(g) {
			return &ConflictError{Group: g, Reason: "missing from " + stage.ID().String() + " output"}
		}
	}
	return nil
}
