package pipeline

import (
	"context"
	"fmt"

	"github.com/sells-group/credcheck/internal/model"
)

type extractor struct {
	c   Collaborators
	cfg Settings
}

func (s *extractor) ID() StageID { return StageExtractor }

func (s *extractor) Requires() []FieldGroup { return []FieldGroup{GroupClassification} }

func (s *extractor) Produces() []FieldGroup { return []FieldGroup{GroupExtraction} }

// Execute pulls the six credential fields out of the already extracted
// document text. The response is decoded as data only.
func (s *extractor) Execute(ctx context.Context, st State) (Delta, error) {
	raw, err := call(ctx, s.cfg.CallTimeout, "extract credential fields", func(ctx context.Context) (string, error) {
		return s.c.LLM.Complete(ctx, fmt.Sprintf(extractPrompt, st.Classification.SourceText))
	})
	if err != nil {
		return Delta{}, err
	}

	var fields model.Extraction
	if err := decodeStrict("extraction", raw, &fields, model.ExtractionKeys); err != nil {
		return Delta{}, err
	}
	return Delta{Extraction: &fields}, nil
}
