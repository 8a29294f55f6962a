package pipeline

import (
	"context"

	"github.com/sells-group/credcheck/internal/model"
)

// InvalidDocumentSummary is reported for documents that are not credentials.
const InvalidDocumentSummary = "The uploaded document is not a valid medical credential."

type formatter struct{}

func (formatter) ID() StageID { return StageFormatter }

func (formatter) Requires() []FieldGroup { return []FieldGroup{GroupClassification} }

func (formatter) Produces() []FieldGroup { return []FieldGroup{GroupResult} }

// Execute projects the state onto the caller-facing result.
func (formatter) Execute(_ context.Context, st State) (Delta, error) {
	doc := st.Classification.DocumentType
	if doc == model.CategoryNotValid {
		return Delta{Result: &model.Result{
			ClassifierResult: model.CategoryNotValid,
			CredibilityResult: model.Credibility{
				Score:         0,
				Summary:       InvalidDocumentSummary,
				Flag:          model.FlagRed,
				Discrepancies: []string{},
			},
		}}, nil
	}

	if st.Credibility == nil {
		return Delta{}, &PreconditionError{Stage: StageFormatter, Missing: []FieldGroup{GroupCredibility}}
	}
	return Delta{Result: &model.Result{
		ClassifierResult:  doc,
		CredibilityResult: *st.Credibility,
	}}, nil
}
