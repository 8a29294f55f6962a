package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
}

// DefaultRetryConfig returns three attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.25,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	d = math.Min(d, float64(c.MaxBackoff))
	if c.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * c.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Guard wraps one provider with retries and a circuit breaker. It is safe
// for concurrent use.
type Guard struct {
	name    string
	retry   RetryConfig
	breaker *Breaker
}

// NewGuard creates a guard named after the provider it protects.
func NewGuard(name string, retry RetryConfig, failureThreshold int, cooldown time.Duration) *Guard {
	return &Guard{
		name:    name,
		retry:   retry.normalize(),
		breaker: NewBreaker(name, failureThreshold, cooldown),
	}
}

// Name returns the provider name.
func (g *Guard) Name() string { return g.name }

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Call runs fn through g. Transient failures are retried with backoff until
// attempts run out, the breaker opens, or ctx is done.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			if lastErr != nil {
				return zero, eris.Wrapf(lastErr, "%s: %s (circuit open)", g.name, op)
			}
			return zero, eris.Wrapf(err, "%s: %s", g.name, op)
		}

		v, err := fn(ctx)
		g.breaker.Record(err)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || attempt == g.retry.MaxAttempts-1 {
			break
		}

		wait := g.retry.delay(attempt)
		zap.L().Warn("resilience: retrying call",
			zap.String("service", g.name),
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
