package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/model"
)

// TextExtractor returns the plain text of a document on disk.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex returns the k reference records nearest to a vector.
type SearchIndex interface {
	Query(ctx context.Context, vector []float32, k int) ([]model.ReferenceMatch, error)
}

// Completer sends a prompt to a language model and returns its raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Collaborators bundles the external services a pipeline calls.
type Collaborators struct {
	Documents TextExtractor
	Embedder  Embedder
	Index     SearchIndex
	LLM       Completer
}

func (c Collaborators) validate() error {
	switch {
	case c.Documents == nil:
		return eris.New("pipeline: text extractor is required")
	case c.Embedder == nil:
		return eris.New("pipeline: embedder is required")
	case c.Index == nil:
		return eris.New("pipeline: search index is required")
	case c.LLM == nil:
		return eris.New("pipeline: language model is required")
	}
	return nil
}

// call runs one collaborator request under its own timeout. Cancellation of
// the parent context is returned as-is; missing files become NotFoundError
// and everything else, including the per-call timeout, a ServiceError.
func call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err == nil {
		return v, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if errors.Is(err, fs.ErrNotExist) {
		return zero, &NotFoundError{Err: err}
	}
	return zero, &ServiceError{Op: op, Err: err}
}

// readDocument extracts the text at path, attributing a missing file to it.
func readDocument(ctx context.Context, docs TextExtractor, timeout time.Duration, path string) (string, error) {
	text, err := call(ctx, timeout, "extract text", func(ctx context.Context) (string, error) {
		return docs.ExtractText(ctx, path)
	})
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		notFound.Path = path
	}
	return text, err
}
