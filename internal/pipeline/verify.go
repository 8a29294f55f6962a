package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
)

type verifier struct {
	c   Collaborators
	cfg Settings
}

type verificationResponse struct {
	Status model.VerificationStatus `json:"status"`
}

func (s *verifier) ID() StageID { return StageVerifier }

func (s *verifier) Requires() []FieldGroup { return []FieldGroup{GroupExtraction} }

func (s *verifier) Produces() []FieldGroup { return []FieldGroup{GroupVerification} }

// Execute checks the extracted fields against the nearest reference record.
// It fails closed: any error yields status invalid rather than a run failure.
func (s *verifier) Execute(ctx context.Context, st State) (Delta, error) {
	status, retrieved, err := s.verify(ctx, st.Extraction)
	if err != nil {
		zap.L().Warn("pipeline: verification failed, marking invalid", zap.Error(err))
		status = model.VerificationInvalid
	}
	return Delta{Verification: &model.Verification{
		Status:           status,
		RetrievedContext: retrieved,
	}}, nil
}

func (s *verifier) verify(ctx context.Context, fields *model.Extraction) (model.VerificationStatus, string, error) {
	blob, err := json.Marshal(fields)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal extraction")
	}

	retrieved, err := retrieveContext(ctx, s.c, s.cfg.CallTimeout, string(blob), s.cfg.VerifierTopK)
	if err != nil {
		return "", "", err
	}

	raw, err := call(ctx, s.cfg.CallTimeout, "verify credential", func(ctx context.Context) (string, error) {
		return s.c.LLM.Complete(ctx, fmt.Sprintf(verifyPrompt, blob, retrieved))
	})
	if err != nil {
		return "", retrieved, err
	}

	var resp verificationResponse
	if err := decodeStrict("verification", raw, &resp, []string{"status"}); err != nil {
		return "", retrieved, err
	}
	switch resp.Status {
	case model.VerificationValid, model.VerificationInvalid:
		return resp.Status, retrieved, nil
	default:
		return "", retrieved, &SchemaError{What: "verification", Raw: raw, Err: eris.Errorf("unknown status %q", resp.Status)}
	}
}
