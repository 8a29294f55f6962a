package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credcheck/internal/model"
)

var embedding = []float32{0.1, 0.2, 0.3}

func classifiedState(c model.Category) State {
	st := NewState(testPaths)
	st.Classification = &model.Classification{
		DocumentType: c,
		SourceText:   "MEDICAL LICENSE ML-1009 Dr. Jane Doe",
	}
	return st
}

func verifiedState() State {
	st := classifiedState(model.CategoryMedicalLicense)
	st.Extraction = testExtraction()
	st.Verification = &model.Verification{Status: model.VerificationValid}
	return st
}

func TestClassifier_Success(t *testing.T) {
	f := newFakes()
	f.docs.On("ExtractText", anyCtx, testPaths.CredentialPath).Return("MEDICAL LICENSE ML-1009", nil)
	f.embed.On("Embed", anyCtx, "MEDICAL LICENSE ML-1009").Return(embedding, nil)
	f.index.On("Query", anyCtx, embedding, 5).Return([]model.ReferenceMatch{
		{ID: "ML-1009", Text: `{"license_number":"ML-1009"}`},
		{ID: "empty"},
		{ID: "ML-1010", Text: `{"license_number":"ML-1010"}`},
	}, nil)
	f.llm.On("Complete", anyCtx, promptFor(classifyMarker)).Return("  medical_license\n", nil)

	s := &classifier{c: f.collaborators(), cfg: DefaultSettings()}
	delta, err := s.Execute(context.Background(), NewState(testPaths))
	require.NoError(t, err)
	require.NotNil(t, delta.Classification)
	assert.Equal(t, model.CategoryMedicalLicense, delta.Classification.DocumentType)
	assert.Equal(t, "MEDICAL LICENSE ML-1009", delta.Classification.SourceText)
	assert.Equal(t, `{"license_number":"ML-1009"}`+"\n---\n"+`{"license_number":"ML-1010"}`, delta.Classification.RetrievedContext)
	assert.Equal(t, []FieldGroup{GroupClassification}, delta.Groups())
}

func TestClassifier_UnknownLabelIsSchemaError(t *testing.T) {
	for _, label := range []string{"Medical_License", "passport", "medical_license, probably", "```medical_license```"} {
		t.Run(label, func(t *testing.T) {
			f := newFakes()
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("text", nil)
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return([]model.ReferenceMatch{}, nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(label, nil)

			s := &classifier{c: f.collaborators(), cfg: DefaultSettings()}
			_, err := s.Execute(context.Background(), NewState(testPaths))
			assert.Equal(t, KindSchema, KindOf(err))
		})
	}
}

func TestClassifier_EmbedFailureIsServiceError(t *testing.T) {
	f := newFakes()
	f.docs.On("ExtractText", anyCtx, mock.Anything).Return("text", nil)
	f.embed.On("Embed", anyCtx, mock.Anything).Return(nil, errors.New("quota exceeded"))

	s := &classifier{c: f.collaborators(), cfg: DefaultSettings()}
	_, err := s.Execute(context.Background(), NewState(testPaths))
	assert.Equal(t, KindService, KindOf(err))
	f.index.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
	f.llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestExtractor_Success(t *testing.T) {
	f := newFakes()
	f.llm.On("Complete", anyCtx, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, extractMarker) && strings.Contains(p, "MEDICAL LICENSE ML-1009 Dr. Jane Doe")
	})).Return(extractionJSON, nil)

	s := &extractor{c: f.collaborators(), cfg: DefaultSettings()}
	delta, err := s.Execute(context.Background(), classifiedState(model.CategoryMedicalLicense))
	require.NoError(t, err)
	assert.Equal(t, testExtraction(), delta.Extraction)
	// Text is reused from classification, never re-read.
	f.docs.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
}

func TestExtractor_NotJSON(t *testing.T) {
	f := newFakes()
	f.llm.On("Complete", anyCtx, mock.Anything).Return("not json", nil)

	s := &extractor{c: f.collaborators(), cfg: DefaultSettings()}
	_, err := s.Execute(context.Background(), classifiedState(model.CategoryMedicalLicense))
	assert.Equal(t, KindSchema, KindOf(err))
}

func TestVerifier_Valid(t *testing.T) {
	f := newFakes()
	f.embed.On("Embed", anyCtx, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, `"license_number":"ML-1009"`)
	})).Return(embedding, nil)
	f.index.On("Query", anyCtx, embedding, 1).Return([]model.ReferenceMatch{{ID: "ML-1009", Text: "ref"}}, nil)
	f.llm.On("Complete", anyCtx, promptFor(verifyMarker)).Return(`{"status": "valid"}`, nil)

	st := classifiedState(model.CategoryMedicalLicense)
	st.Extraction = testExtraction()

	s := &verifier{c: f.collaborators(), cfg: DefaultSettings()}
	delta, err := s.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationValid, delta.Verification.Status)
	assert.Equal(t, "ref", delta.Verification.RetrievedContext)
}

func TestVerifier_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakes)
	}{
		{"embed error", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(nil, errors.New("connection refused"))
		}},
		{"search error", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return(nil, errors.New("index offline"))
		}},
		{"llm transport error", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return([]model.ReferenceMatch{}, nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return("", errors.New("connection reset by peer"))
		}},
		{"malformed response", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return([]model.ReferenceMatch{}, nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(`{"status": "valid",}`, nil)
		}},
		{"unknown status", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return([]model.ReferenceMatch{}, nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(`{"status": "probably"}`, nil)
		}},
		{"case-folded duplicate status", func(f *fakes) {
			f.embed.On("Embed", anyCtx, mock.Anything).Return(embedding, nil)
			f.index.On("Query", anyCtx, mock.Anything, mock.Anything).Return([]model.ReferenceMatch{}, nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(`{"status":"invalid","STATUS":"valid"}`, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			tt.setup(f)
			st := classifiedState(model.CategoryMedicalLicense)
			st.Extraction = testExtraction()

			s := &verifier{c: f.collaborators(), cfg: DefaultSettings()}
			delta, err := s.Execute(context.Background(), st)
			require.NoError(t, err)
			assert.Equal(t, model.VerificationInvalid, delta.Verification.Status)
		})
	}
}

func TestCrosscheck_Success(t *testing.T) {
	f := newFakes()
	f.docs.On("ExtractText", anyCtx, testPaths.ResumePath).Return("Jane Doe, MD. Harvard Medical School 2019.", nil)
	f.llm.On("Complete", anyCtx, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, crosscheckMarker) && strings.Contains(p, "Harvard Medical School 2019")
	})).Return(crosscheckJSON, nil)

	s := &crosschecker{c: f.collaborators(), cfg: DefaultSettings()}
	delta, err := s.Execute(context.Background(), verifiedState())
	require.NoError(t, err)
	require.NotNil(t, delta.Crosscheck)
	assert.Len(t, delta.Crosscheck.ConsistencyReport, 6)
	for _, k := range model.ConsistencyChecks {
		assert.True(t, delta.Crosscheck.ConsistencyReport[k], k)
	}
	assert.Empty(t, delta.Crosscheck.Discrepancies)
	assert.NotNil(t, delta.Crosscheck.Discrepancies)
}

func TestCrosscheck_FailSoft(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakes)
	}{
		{"resume missing", func(f *fakes) {
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("", &NotFoundError{Path: testPaths.ResumePath})
		}},
		{"llm error", func(f *fakes) {
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("resume", nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return("", errors.New("503"))
		}},
		{"partial report", func(f *fakes) {
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("resume", nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(`{"consistency_report": {"name_match": true}, "discrepancies": []}`, nil)
		}},
		{"case-folded report keys", func(f *fakes) {
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("resume", nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(strings.ReplaceAll(crosscheckJSON, `"name_match"`, `"NAME_MATCH"`), nil)
		}},
		{"null discrepancies", func(f *fakes) {
			f.docs.On("ExtractText", anyCtx, mock.Anything).Return("resume", nil)
			f.llm.On("Complete", anyCtx, mock.Anything).Return(`{"consistency_report": {"name_match": true, "license_number_match": true, "institution_match": true, "certifying_body_match": true, "issue_date_match": true, "expiry_date_match": true}, "discrepancies": null}`, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			tt.setup(f)

			s := &crosschecker{c: f.collaborators(), cfg: DefaultSettings()}
			delta, err := s.Execute(context.Background(), verifiedState())
			require.NoError(t, err)
			require.NotNil(t, delta.Crosscheck)
			assert.Empty(t, delta.Crosscheck.ConsistencyReport)
			require.Len(t, delta.Crosscheck.Discrepancies, 1)
			assert.Contains(t, delta.Crosscheck.Discrepancies[0], "crosscheck failed")
		})
	}
}

func TestCredibility_Success(t *testing.T) {
	f := newFakes()
	f.llm.On("Complete", anyCtx, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, credibilityMarker) && strings.Contains(p, "base score of 60") && strings.Contains(p, "start from 20")
	})).Return(credibilityJSON, nil)

	st := verifiedState()
	st.Crosscheck = &model.Crosscheck{ConsistencyReport: map[string]bool{model.CheckName: true}, Discrepancies: []string{}}

	s := &credibilityScorer{c: f.collaborators(), cfg: DefaultSettings()}
	delta, err := s.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 92, delta.Credibility.Score)
	assert.Equal(t, model.FlagGreen, delta.Credibility.Flag)
	assert.Empty(t, delta.Credibility.Discrepancies)
}

func TestCredibility_FailSoft(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{"transport error", "", errors.New("deadline exceeded")},
		{"fractional score", `{"credibility_score": 91.5, "summary": "s", "flag": "green", "discrepancies": []}`, nil},
		{"score out of range", `{"credibility_score": 140, "summary": "s", "flag": "green", "discrepancies": []}`, nil},
		{"bad flag", `{"credibility_score": 50, "summary": "s", "flag": "amber", "discrepancies": []}`, nil},
		{"missing flag", `{"credibility_score": 50, "summary": "s", "discrepancies": []}`, nil},
		{"null score", `{"credibility_score": null, "summary": "s", "flag": "green", "discrepancies": []}`, nil},
		{"null summary", `{"credibility_score": 50, "summary": null, "flag": "green", "discrepancies": []}`, nil},
		{"null discrepancies", `{"credibility_score": 50, "summary": "s", "flag": "green", "discrepancies": null}`, nil},
		{"all null but flag", `{"credibility_score": null, "summary": null, "flag": "green", "discrepancies": null}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			f.llm.On("Complete", anyCtx, mock.Anything).Return(tt.raw, tt.err)

			st := verifiedState()
			st.Crosscheck = &model.Crosscheck{ConsistencyReport: map[string]bool{}, Discrepancies: []string{}}

			s := &credibilityScorer{c: f.collaborators(), cfg: DefaultSettings()}
			delta, err := s.Execute(context.Background(), st)
			require.NoError(t, err)
			assert.Equal(t, 0, delta.Credibility.Score)
			assert.Equal(t, model.FlagRed, delta.Credibility.Flag)
			assert.Contains(t, delta.Credibility.Summary, "Failed to compute credibility score")
			assert.Empty(t, delta.Credibility.Discrepancies)
		})
	}
}

func TestScorePolicy_Inverted(t *testing.T) {
	assert.False(t, DefaultScorePolicy().Inverted())
	assert.True(t, ScorePolicy{ValidBase: 6, InvalidBase: 20}.Inverted())
}

func TestFormatter(t *testing.T) {
	delta, err := formatter{}.Execute(context.Background(), classifiedState(model.CategoryNotValid))
	require.NoError(t, err)
	assert.Equal(t, &model.Result{
		ClassifierResult: model.CategoryNotValid,
		CredibilityResult: model.Credibility{
			Score:         0,
			Summary:       InvalidDocumentSummary,
			Flag:          model.FlagRed,
			Discrepancies: []string{},
		},
	}, delta.Result)

	_, err = formatter{}.Execute(context.Background(), classifiedState(model.CategoryBoardCertificate))
	assert.Equal(t, KindPrecondition, KindOf(err))
}
