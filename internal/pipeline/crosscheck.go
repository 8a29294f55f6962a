package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
)

type crosschecker struct {
	c   Collaborators
	cfg Settings
}

// consistencyWire uses pointers so a missing or null key is detectable.
type consistencyWire struct {
	NameMatch           *bool `json:"name_match"`
	LicenseNumberMatch  *bool `json:"license_number_match"`
	InstitutionMatch    *bool `json:"institution_match"`
	CertifyingBodyMatch *bool `json:"certifying_body_match"`
	IssueDateMatch      *bool `json:"issue_date_match"`
	ExpiryDateMatch     *bool `json:"expiry_date_match"`
}

type crosscheckResponse struct {
	ConsistencyReport consistencyWire `json:"consistency_report"`
	Discrepancies     []string        `json:"discrepancies"`
}

func (w consistencyWire) report() (map[string]bool, error) {
	fields := []struct {
		key string
		val *bool
	}{
		{model.CheckName, w.NameMatch},
		{model.CheckLicenseNumber, w.LicenseNumberMatch},
		{model.CheckInstitution, w.InstitutionMatch},
		{model.CheckCertifyingBody, w.CertifyingBodyMatch},
		{model.CheckIssueDate, w.IssueDateMatch},
		{model.CheckExpiryDate, w.ExpiryDateMatch},
	}
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.val == nil {
			return nil, eris.Errorf("consistency_report missing %q", f.key)
		}
		out[f.key] = *f.val
	}
	return out, nil
}

func (s *crosschecker) ID() StageID { return StageCrosscheck }

func (s *crosschecker) Requires() []FieldGroup {
	return []FieldGroup{GroupFilePaths, GroupExtraction, GroupVerification}
}

func (s *crosschecker) Produces() []FieldGroup { return []FieldGroup{GroupCrosscheck} }

// Execute compares the credential with the resume. On failure it records an
// empty report and a single discrepancy describing the error.
func (s *crosschecker) Execute(ctx context.Context, st State) (Delta, error) {
	result, err := s.check(ctx, st)
	if err != nil {
		zap.L().Warn("pipeline: crosscheck failed", zap.Error(err))
		result = &model.Crosscheck{
			ConsistencyReport: map[string]bool{},
			Discrepancies:     []string{fmt.Sprintf("crosscheck failed: %v", err)},
		}
	}
	return Delta{Crosscheck: result}, nil
}

func (s *crosschecker) check(ctx context.Context, st State) (*model.Crosscheck, error) {
	resume, err := readDocument(ctx, s.c.Documents, s.cfg.CallTimeout, st.FilePaths.ResumePath)
	if err != nil {
		return nil, err
	}

	fields, err := json.MarshalIndent(st.Extraction, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "marshal extraction")
	}

	raw, err := call(ctx, s.cfg.CallTimeout, "crosscheck resume", func(ctx context.Context) (string, error) {
		return s.c.LLM.Complete(ctx, fmt.Sprintf(crosscheckPrompt, fields, st.Verification.Status, resume))
	})
	if err != nil {
		return nil, err
	}

	var resp crosscheckResponse
	if err := decodeStrict("crosscheck", raw, &resp, []string{"consistency_report", "discrepancies"}); err != nil {
		return nil, err
	}
	report, err := resp.ConsistencyReport.report()
	if err != nil {
		return nil, &SchemaError{What: "crosscheck", Raw: raw, Err: err}
	}
	return &model.Crosscheck{ConsistencyReport: report, Discrepancies: resp.Discrepancies}, nil
}
