package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
)

// ScorePolicy sets the starting credibility score for each verification
// outcome. A valid verification is expected to start higher.
type ScorePolicy struct {
	ValidBase   int
	InvalidBase int
}

// DefaultScorePolicy returns the standard base scores.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{ValidBase: 60, InvalidBase: 20}
}

// Inverted reports whether an invalid verification would start at or above
// a valid one.
func (p ScorePolicy) Inverted() bool {
	return p.InvalidBase >= p.ValidBase
}

type credibilityScorer struct {
	c   Collaborators
	cfg Settings
}

type credibilityResponse struct {
	Score         *int     `json:"credibility_score"`
	Summary       *string  `json:"summary"`
	Flag          string   `json:"flag"`
	Discrepancies []string `json:"discrepancies"`
}

var credibilityKeys = []string{"credibility_score", "summary", "flag", "discrepancies"}

func (s *credibilityScorer) ID() StageID { return StageCredibility }

func (s *credibilityScorer) Requires() []FieldGroup {
	return []FieldGroup{GroupVerification, GroupCrosscheck}
}

func (s *credibilityScorer) Produces() []FieldGroup { return []FieldGroup{GroupCredibility} }

// Execute scores the credential. On failure it records a zero score flagged
// red with the error as summary.
func (s *credibilityScorer) Execute(ctx context.Context, st State) (Delta, error) {
	result, err := s.score(ctx, st)
	if err != nil {
		zap.L().Warn("pipeline: credibility scoring failed", zap.Error(err))
		result = &model.Credibility{
			Score:         0,
			Summary:       fmt.Sprintf("Failed to compute credibility score due to error: %v", err),
			Flag:          model.FlagRed,
			Discrepancies: []string{},
		}
	}
	return Delta{Credibility: result}, nil
}

func (s *credibilityScorer) score(ctx context.Context, st State) (*model.Credibility, error) {
	report, err := json.MarshalIndent(st.Crosscheck, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "marshal crosscheck")
	}

	prompt := fmt.Sprintf(credibilityPrompt, report, st.Verification.Status,
		s.cfg.Scores.ValidBase, s.cfg.Scores.InvalidBase)
	raw, err := call(ctx, s.cfg.CallTimeout, "score credibility", func(ctx context.Context) (string, error) {
		return s.c.LLM.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}

	var resp credibilityResponse
	if err := decodeStrict("credibility", raw, &resp, credibilityKeys); err != nil {
		return nil, err
	}
	if resp.Score == nil || resp.Summary == nil {
		return nil, &SchemaError{What: "credibility", Raw: raw, Err: eris.New("credibility_score and summary must not be null")}
	}
	if *resp.Score < 0 || *resp.Score > 100 {
		return nil, &SchemaError{What: "credibility", Raw: raw, Err: eris.Errorf("score %d out of range 0-100", *resp.Score)}
	}
	flag, err := model.ParseFlag(resp.Flag)
	if err != nil {
		return nil, &SchemaError{What: "credibility", Raw: raw, Err: err}
	}
	return &model.Credibility{
		Score:         *resp.Score,
		Summary:       *resp.Summary,
		Flag:          flag,
		Discrepancies: resp.Discrepancies,
	}, nil
}
