package capacity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/types"
)

func TestMonitor_ExactUtilization(t *testing.T) {
	m := NewMonitor(Config{Threshold: 0.85, ContextBudgetTokens: 1000}, nil, zap.NewNop())

	util := m.Observe(types.TokenUsage{TotalTokens: 500})
	assert.InDelta(t, 0.5, util, 1e-9)

	metrics := m.Metrics()
	assert.False(t, metrics.Estimated)
	assert.Equal(t, 1, metrics.CallCount)
}

func TestMonitor_EstimatedFromCost(t *testing.T) {
	m := NewMonitor(Config{
		Threshold:           0.85,
		ContextBudgetTokens: 1000,
		PricePerToken:       0.001,
	}, nil, zap.NewNop())

	// 0.5 cost at 0.001 per token is 500 estimated tokens.
	util := m.Observe(types.TokenUsage{Cost: 0.5})
	assert.InDelta(t, 0.5, util, 1e-9)
	assert.True(t, m.Metrics().Estimated)
}

func TestMonitor_ThresholdFiresOnceAsync(t *testing.T) {
	var mu sync.Mutex
	var fires []float64
	done := make(chan struct{}, 2)

	m := NewMonitor(Config{Threshold: 0.85, ContextBudgetTokens: 100}, func(u float64) {
		mu.Lock()
		fires = append(fires, u)
		mu.Unlock()
		done <- struct{}{}
	}, zap.NewNop())

	// 0.86 utilization on threshold 0.85 must queue exactly one request.
	m.Observe(types.TokenUsage{TotalTokens: 86})
	m.Observe(types.TokenUsage{TotalTokens: 10})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("threshold callback never fired")
	}

	// Give a second (incorrect) fire a chance to land.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fires, 1)
	assert.InDelta(t, 0.86, fires[0], 1e-9)
}

func TestMonitor_BelowThresholdNeverFires(t *testing.T) {
	fired := false
	m := NewMonitor(Config{Threshold: 0.85, ContextBudgetTokens: 100}, func(float64) {
		fired = true
	}, zap.NewNop())

	m.Observe(types.TokenUsage{TotalTokens: 84})
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired)
}

func TestMonitor_ResetClearsSession(t *testing.T) {
	m := NewMonitor(Config{Threshold: 0.5, ContextBudgetTokens: 100}, nil, zap.NewNop())
	m.Observe(types.TokenUsage{TotalTokens: 90})
	require.True(t, m.Metrics().Utilization > 0.5)

	m.Reset()
	metrics := m.Metrics()
	assert.Zero(t, metrics.TotalTokens)
	assert.Zero(t, metrics.CallCount)
	assert.Zero(t, metrics.Utilization)

	// The threshold can fire again in the new session.
	fired := make(chan struct{}, 1)
	m2 := NewMonitor(Config{Threshold: 0.5, ContextBudgetTokens: 100}, func(float64) {
		fired <- struct{}{}
	}, zap.NewNop())
	m2.Observe(types.TokenUsage{TotalTokens: 60})
	<-fired
	m2.Reset()
	m2.Observe(types.TokenUsage{TotalTokens: 60})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("threshold did not re-arm after reset")
	}
}

func TestMonitor_EstimateTokens(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, zap.NewNop())

	assert.Zero(t, m.EstimateTokens(""))
	assert.Greater(t, m.EstimateTokens("chose sqlite over postgres for the snapshot store"), 0)
}
