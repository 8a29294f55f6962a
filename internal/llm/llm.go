// Package llm builds the language model and embedding collaborators from
// configuration, wrapping each provider in a resilience guard.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credcheck/internal/config"
	"github.com/sells-group/credcheck/internal/resilience"
	"github.com/sells-group/credcheck/pkg/anthropic"
	"github.com/sells-group/credcheck/pkg/gemini"
)

const previewLen = 200

// Completer sends a prompt and returns raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder maps text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Providers holds the guarded collaborators.
type Providers struct {
	LLM      *GuardedCompleter
	Embedder *GuardedEmbedder
}

// New builds providers for cfg. Embeddings always come from Gemini; the
// completion provider follows llm.provider.
func New(ctx context.Context, cfg *config.Config) (*Providers, error) {
	gm, err := gemini.NewClient(ctx, cfg.Gemini.Key, gemini.Options{
		Model:          cfg.Gemini.Model,
		EmbeddingModel: cfg.Gemini.EmbeddingModel,
		Dimensions:     cfg.Index.Dimensions,
		RateLimit:      cfg.Gemini.RateLimit,
	})
	if err != nil {
		return nil, err
	}

	embedder := NewGuardedEmbedder(gm, GuardFromConfig("gemini-embed", cfg.Resilience))

	var completer Completer
	var name string
	switch cfg.LLM.Provider {
	case "gemini", "":
		completer, name = gm, "gemini"
	case "anthropic":
		client := anthropic.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL)
		completer = anthropic.NewCompleter(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Anthropic.RateLimit)
		name = "anthropic"
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}

	return &Providers{
		LLM:      NewGuardedCompleter(completer, GuardFromConfig(name, cfg.Resilience)),
		Embedder: embedder,
	}, nil
}

// GuardFromConfig builds a guard using the resilience section.
func GuardFromConfig(name string, rc config.ResilienceConfig) *resilience.Guard {
	retry := resilience.RetryConfig{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: time.Duration(rc.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoffMs) * time.Millisecond,
		Multiplier:     2,
		Jitter:         0.25,
	}
	return resilience.NewGuard(name, retry, rc.FailureThreshold, time.Duration(rc.CooldownSecs)*time.Second)
}

// GuardedCompleter retries and circuit-breaks an inner Completer.
type GuardedCompleter struct {
	inner Completer
	guard *resilience.Guard
}

// NewGuardedCompleter wraps inner with guard.
func NewGuardedCompleter(inner Completer, guard *resilience.Guard) *GuardedCompleter {
	return &GuardedCompleter{inner: inner, guard: guard}
}

// Complete implements Completer.
func (g *GuardedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := resilience.Call(ctx, g.guard, "complete", func(ctx context.Context) (string, error) {
		return g.inner.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	zap.L().Debug("llm: completion",
		zap.String("provider", g.guard.Name()),
		zap.Int("prompt_length", len(prompt)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("response_preview", preview(out)),
	)
	return out, nil
}

// GuardedEmbedder retries and circuit-breaks an inner Embedder.
type GuardedEmbedder struct {
	inner Embedder
	guard *resilience.Guard
}

// NewGuardedEmbedder wraps inner with guard.
func NewGuardedEmbedder(inner Embedder, guard *resilience.Guard) *GuardedEmbedder {
	return &GuardedEmbedder{inner: inner, guard: guard}
}

// Embed implements Embedder.
func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Call(ctx, g.guard, "embed", func(ctx context.Context) ([]float32, error) {
		return g.inner.Embed(ctx, text)
	})
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
