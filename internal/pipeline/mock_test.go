package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/credcheck/internal/model"
)

var anyCtx = mock.Anything

// --- TextExtractor Mock ---

type mockDocuments struct {
	mock.Mock
}

func (m *mockDocuments) ExtractText(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

// --- Embedder Mock ---

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// --- SearchIndex Mock ---

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, k int) ([]model.ReferenceMatch, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ReferenceMatch), args.Error(1)
}

// --- Completer Mock ---

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// --- Tracker Mock ---

type trackedStage struct {
	stage StageID
	err   error
}

type recordingTracker struct {
	begun    []StageID
	finished []trackedStage
}

func (r *recordingTracker) Begin(_ context.Context, _ string, stage StageID) func(time.Duration, error) {
	r.begun = append(r.begun, stage)
	return func(_ time.Duration, err error) {
		r.finished = append(r.finished, trackedStage{stage: stage, err: err})
	}
}

// promptFor matches prompts by a distinctive fragment of each template.
func promptFor(fragment string) any {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, fragment) })
}

const (
	classifyMarker    = "Classify the type of this medical document"
	extractMarker     = "Extract the following credential information"
	verifyMarker      = "You are verifying the validity of a medical credential"
	crosscheckMarker  = "You are an expert medical document auditor"
	credibilityMarker = "You are a medical credential assessment agent"
)

type fakes struct {
	docs  *mockDocuments
	embed *mockEmbedder
	index *mockIndex
	llm   *mockLLM
}

func newFakes() *fakes {
	return &fakes{
		docs:  &mockDocuments{},
		embed: &mockEmbedder{},
		index: &mockIndex{},
		llm:   &mockLLM{},
	}
}

func (f *fakes) collaborators() Collaborators {
	return Collaborators{Documents: f.docs, Embedder: f.embed, Index: f.index, LLM: f.llm}
}

func strPtr(s string) *string { return &s }

var testPaths = model.FilePaths{
	CredentialPath: "/uploads/license.pdf",
	ResumePath:     "/uploads/resume.pdf",
}

const (
	extractionJSON = `{
  "name": "Dr. Jane Doe",
  "license_number": "ML-1009",
  "issue_date": "2019-06-01",
  "expiry_date": "2029-06-01",
  "institution": "Harvard Medical School",
  "certifying_body": "Massachusetts Board of Registration in Medicine"
}`
	crosscheckJSON = `{
  "consistency_report": {
    "name_match": true,
    "license_number_match": true,
    "institution_match": true,
    "certifying_body_match": true,
    "issue_date_match": true,
    "expiry_date_match": true
  },
  "discrepancies": []
}`
	credibilityJSON = `{"credibility_score": 92, "summary": "All fields consistent with the reference record and resume.", "flag": "green", "discrepancies": []}`
)

func testExtraction() *model.Extraction {
	return &model.Extraction{
		Name:           strPtr("Dr. Jane Doe"),
		LicenseNumber:  strPtr("ML-1009"),
		IssueDate:      strPtr("2019-06-01"),
		ExpiryDate:     strPtr("2029-06-01"),
		Institution:    strPtr("Harvard Medical School"),
		CertifyingBody: strPtr("Massachusetts Board of Registration in Medicine"),
	}
}
