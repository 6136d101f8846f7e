// Package capacity tracks cumulative LLM resource consumption for one
// workflow session and raises an asynchronous pause request when the
// utilization threshold is crossed. The monitor never blocks the
// in-flight task; the actual pause happens at the next task boundary.
package capacity

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/types"
)

// Config controls the monitor's thresholds and estimation assumptions.
type Config struct {
	// Threshold is the utilization fraction that triggers a pause request.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// ContextBudgetTokens is the token budget of one session.
	ContextBudgetTokens int `yaml:"context_budget_tokens" json:"context_budget_tokens"`
	// PricePerToken converts reported cost into estimated tokens when the
	// transport does not report token counts.
	PricePerToken float64 `yaml:"price_per_token" json:"price_per_token"`
	// Encoding is the tiktoken encoding used for raw-text estimation.
	Encoding string `yaml:"encoding" json:"encoding"`
}

// DefaultConfig returns the default capacity configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:           0.85,
		ContextBudgetTokens: 200_000,
		PricePerToken:       0.000008,
		Encoding:            "cl100k_base",
	}
}

// ThresholdFunc is invoked once per session when utilization crosses the
// threshold. It runs on its own goroutine.
type ThresholdFunc func(utilization float64)

// Monitor accumulates usage and fires the threshold callback.
type Monitor struct {
	config      Config
	onThreshold ThresholdFunc
	logger      *zap.Logger

	mu      sync.Mutex
	usage   types.UsageMetrics
	started time.Time
	fired   bool

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

// NewMonitor creates a capacity monitor. onThreshold may be nil.
func NewMonitor(config Config, onThreshold ThresholdFunc, logger *zap.Logger) *Monitor {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.ContextBudgetTokens <= 0 {
		config.ContextBudgetTokens = DefaultConfig().ContextBudgetTokens
	}
	if config.PricePerToken <= 0 {
		config.PricePerToken = DefaultConfig().PricePerToken
	}
	if config.Encoding == "" {
		config.Encoding = DefaultConfig().Encoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		config:      config,
		onThreshold: onThreshold,
		logger:      logger.With(zap.String("component", "capacity_monitor")),
		started:     time.Now(),
	}
}

// Observe folds one call's usage into the session totals and evaluates
// the threshold. It returns the current utilization.
func (m *Monitor) Observe(u types.TokenUsage) float64 {
	m.mu.Lock()
	m.usage.Record(u)

	if m.usage.TotalTokens > 0 {
		m.usage.Utilization = float64(m.usage.TotalTokens) / float64(m.config.ContextBudgetTokens)
		m.usage.Estimated = false
	} else if m.usage.TotalCost > 0 {
		estimatedTokens := m.usage.TotalCost / m.config.PricePerToken
		m.usage.Utilization = estimatedTokens / float64(m.config.ContextBudgetTokens)
		m.usage.Estimated = true
	}

	utilization := m.usage.Utilization
	crossed := utilization >= m.config.Threshold && !m.fired
	if crossed {
		m.fired = true
	}
	m.mu.Unlock()

	if crossed {
		m.logger.Warn("capacity threshold crossed",
			zap.Float64("utilization", utilization),
			zap.Float64("threshold", m.config.Threshold),
		)
		if m.onThreshold != nil {
			go m.onThreshold(utilization)
		}
	}
	return utilization
}

// Metrics returns a copy of the session usage with the wall clock filled in.
func (m *Monitor) Metrics() types.UsageMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := m.usage
	usage.WallClock = time.Since(m.started)
	return usage
}

// Reset clears the session totals. Called on resume, when a fresh
// execution context starts with a fresh budget.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage = types.UsageMetrics{}
	m.started = time.Now()
	m.fired = false
}

// EstimateTokens counts the tokens of raw text using the configured
// tiktoken encoding. When the encoding cannot be loaded it falls back to
// a four-characters-per-token heuristic.
func (m *Monitor) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	m.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(m.config.Encoding)
		if err != nil {
			m.logger.Warn("tiktoken encoding unavailable, using heuristic",
				zap.String("encoding", m.config.Encoding),
				zap.Error(err),
			)
			return
		}
		m.encoder = enc
	})

	if m.encoder != nil {
		return len(m.encoder.Encode(text, nil, nil))
	}

	tokens := len(text) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
