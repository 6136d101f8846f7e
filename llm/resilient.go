package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/continuumhq/continuum/structured"
	"github.com/continuumhq/continuum/types"
)

// ResilientConfig controls the retry, timeout, and rate-limit behavior of
// the resilient generator wrapper.
type ResilientConfig struct {
	// CallTimeout bounds a single generate call.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	// RequestsPerSecond caps outgoing calls. Zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// DefaultResilientConfig returns the default wrapper configuration. A
// single retry keeps extraction latency bounded inside the pause flow.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		CallTimeout:  60 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 2 * time.Second,
	}
}

// ResilientGenerator wraps a Generator with per-call timeout, bounded
// retry with exponential backoff, and an optional rate limiter.
type ResilientGenerator struct {
	inner   Generator
	config  ResilientConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewResilientGenerator creates a resilient wrapper around inner.
func NewResilientGenerator(inner Generator, config ResilientConfig, logger *zap.Logger) *ResilientGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return &ResilientGenerator{
		inner:   inner,
		config:  config,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm_generator")),
	}
}

// Generate implements Generator.
func (g *ResilientGenerator) Generate(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			g.logger.Warn("generate failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		result, err := g.generateOnce(ctx, messages, schema)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
	}

	return nil, lastErr
}

func (g *ResilientGenerator) generateOnce(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*Result, error) {
	callCtx := ctx
	if g.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.config.CallTimeout)
		defer cancel()
	}
	return g.inner.Generate(callCtx, messages, schema)
}

// retryable reports whether the error is worth another attempt. Typed
// errors carry their own flag; plain errors (including deadline
// exceeded) are retried because transient transport failures dominate.
func retryable(err error) bool {
	if e, ok := err.(*types.Error); ok {
		return e.Retryable
	}
	if err == context.Canceled {
		return false
	}
	return true
}
