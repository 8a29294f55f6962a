package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/model"
)

// contextSeparator joins retrieved reference texts in prompts.
const contextSeparator = "\n---\n"

type classifier struct {
	c   Collaborators
	cfg Settings
}

func (s *classifier) ID() StageID { return StageClassifier }

func (s *classifier) Requires() []FieldGroup { return []FieldGroup{GroupFilePaths} }

func (s *classifier) Produces() []FieldGroup { return []FieldGroup{GroupClassification} }

// Execute extracts the credential text, retrieves similar reference records,
// and asks the model for exactly one category label.
func (s *classifier) Execute(ctx context.Context, st State) (Delta, error) {
	text, err := readDocument(ctx, s.c.Documents, s.cfg.CallTimeout, st.FilePaths.CredentialPath)
	if err != nil {
		return Delta{}, err
	}

	retrieved, err := retrieveContext(ctx, s.c, s.cfg.CallTimeout, text, s.cfg.ClassifierTopK)
	if err != nil {
		return Delta{}, err
	}

	raw, err := call(ctx, s.cfg.CallTimeout, "classify document", func(ctx context.Context) (string, error) {
		return s.c.LLM.Complete(ctx, fmt.Sprintf(classifyPrompt, text, retrieved))
	})
	if err != nil {
		return Delta{}, err
	}

	category, err := model.ParseCategory(raw)
	if err != nil {
		return Delta{}, &SchemaError{What: "classification", Raw: raw, Err: err}
	}

	zap.L().Debug("pipeline: document classified",
		zap.String("document_type", string(category)),
		zap.Int("text_length", len(text)),
	)

	return Delta{Classification: &model.Classification{
		DocumentType:     category,
		SourceText:       text,
		RetrievedContext: retrieved,
	}}, nil
}

// retrieveContext embeds text and joins the k nearest reference texts.
func retrieveContext(ctx context.Context, c Collaborators, timeout time.Duration, text string, k int) (string, error) {
	vec, err := call(ctx, timeout, "embed text", func(ctx context.Context) ([]float32, error) {
		return c.Embedder.Embed(ctx, text)
	})
	if err != nil {
		return "", err
	}

	matches, err := call(ctx, timeout, "query reference index", func(ctx context.Context) ([]model.ReferenceMatch, error) {
		return c.Index.Query(ctx, vec, k)
	})
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.Join(texts, contextSeparator), nil
}
