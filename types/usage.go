package types

import "time"

// TokenUsage represents token consumption reported by a single LLM call.
// All fields are optional; providers that bill without exposing token
// counts report only Cost.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// UsageMetrics is the cumulative resource consumption of one workflow
// session. It is both display data inside a snapshot and the signal the
// capacity monitor triggers on.
type UsageMetrics struct {
	TotalCost   float64       `json:"total_cost"`
	CallCount   int           `json:"call_count"`
	TotalTokens int           `json:"total_tokens"`
	WallClock   time.Duration `json:"wall_clock"`
	// Utilization is the fraction of the available context/resource budget
	// consumed, in [0, 1]. Exact when providers report token counts,
	// otherwise estimated from cost.
	Utilization float64 `json:"utilization"`
	// Estimated is true when Utilization was derived from cost rather than
	// reported token counts.
	Estimated bool `json:"estimated"`
}

// Record folds one call's usage into the cumulative metrics.
func (m *UsageMetrics) Record(u TokenUsage) {
	m.TotalCost += u.Cost
	m.TotalTokens += u.TotalTokens
	m.CallCount++
}
