// Package gemini wraps the Google GenAI SDK for text generation and
// embeddings against the Gemini API backend.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/credcheck/internal/resilience"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultEmbeddingModel = "text-embedding-004"
)

// modelsAPI is the subset of *genai.Models the client calls.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Options configures a Client.
type Options struct {
	Model          string
	EmbeddingModel string
	// Dimensions truncates embeddings when > 0.
	Dimensions int
	// RateLimit caps requests per second when > 0.
	RateLimit float64
}

// Client generates text and embeddings with Gemini. It is safe for
// concurrent use.
type Client struct {
	models         modelsAPI
	model          string
	embeddingModel string
	dimensions     int
	limiter        *rate.Limiter
}

// NewClient creates a Client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}

	return newClient(client.Models, opts), nil
}

func newClient(models modelsAPI, opts Options) *Client {
	if opts.Model = strings.TrimSpace(opts.Model); opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.EmbeddingModel = strings.TrimSpace(opts.EmbeddingModel); opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultEmbeddingModel
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Client{
		models:         models,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		dimensions:     opts.Dimensions,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

// Model returns the generation model name.
func (c *Client) Model() string { return c.model }

// Complete sends prompt and returns the text of all candidate parts.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "gemini: rate limit wait")
	}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(eris.Wrap(err, "gemini: generate content"), err)
	}
	logUsage(c.model, resp.UsageMetadata)

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			sb.WriteString(part.Text)
		}
		// Only the first usable candidate counts.
		if sb.Len() > 0 {
			break
		}
	}

	if sb.Len() == 0 {
		return "", eris.New("gemini: empty response")
	}
	return sb.String(), nil
}

// logUsage records token counts for a generation call. Responses without
// usage metadata are skipped.
func logUsage(model string, u *genai.GenerateContentResponseUsageMetadata) {
	if u == nil {
		return
	}
	zap.L().Debug("gemini: usage",
		zap.String("model", model),
		zap.Int64("input_tokens", int64(u.PromptTokenCount)),
		zap.Int64("output_tokens", int64(u.CandidatesTokenCount)),
		zap.Int64("total_tokens", int64(u.TotalTokenCount)),
	)
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gemini: rate limit wait")
	}

	var cfg *genai.EmbedContentConfig
	if c.dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(c.dimensions))}
	}

	resp, err := c.models.EmbedContent(ctx, c.embeddingModel, genai.Text(text), cfg)
	if err != nil {
		return nil, classify(eris.Wrap(err, "gemini: embed content"), err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, eris.New("gemini: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

// classify marks retryable API failures as transient.
func classify(wrapped, raw error) error {
	var apiErr genai.APIError
	if errors.As(raw, &apiErr) {
		if resilience.IsTransientStatus(apiErr.Code) {
			return resilience.NewTransientError(wrapped, apiErr.Code)
		}
		return wrapped
	}
	var apiErrPtr *genai.APIError
	if errors.As(raw, &apiErrPtr) && resilience.IsTransientStatus(apiErrPtr.Code) {
		return resilience.NewTransientError(wrapped, apiErrPtr.Code)
	}
	if resilience.IsTransient(raw) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
