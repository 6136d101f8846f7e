package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/llm"
	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/structured"
	"github.com/continuumhq/continuum/types"
)

func fixedResponse(payload string) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*llm.Result, error) {
		return &llm.Result{
			JSON:  json.RawMessage(payload),
			Usage: types.TokenUsage{TotalTokens: 300, Cost: 0.002},
		}, nil
	})
}

func TestExtractor_MapsValidResponse(t *testing.T) {
	payload := `{
		"decisions": [
			{"category": "library", "description": "use sqlite for persistence", "rationale": "no external service", "alternatives": ["postgres"]},
			{"category": "workaround", "description": "pin tokenizer version"}
		],
		"errors": [
			{"type": "build_error", "message": "undefined symbol", "resolution": "fixed"},
			{"type": "test_failure", "message": "flaky timing test", "context": "monitor_test.go", "resolution": "unresolved"}
		]
	}`
	extractor := NewExtractor(fixedResponse(payload), Config{}, zap.NewNop())

	decisions, errors, degraded := extractor.Extract(context.Background(), "wf-1", []string{"entry one", "entry two"})

	assert.False(t, degraded)
	require.Len(t, decisions, 2)
	assert.Equal(t, snapshot.CategoryLibrary, decisions[0].Category)
	assert.Equal(t, "use sqlite for persistence", decisions[0].Description)
	assert.Equal(t, "no external service", decisions[0].Rationale)
	assert.Equal(t, []string{"postgres"}, decisions[0].Alternatives)
	assert.NotEmpty(t, decisions[0].ID)
	assert.NotEqual(t, decisions[0].ID, decisions[1].ID)
	assert.False(t, decisions[0].CreatedAt.IsZero())

	require.Len(t, errors, 2)
	assert.Equal(t, snapshot.ResolutionUnresolved, errors[1].Resolution)
	assert.Equal(t, "monitor_test.go", errors[1].Context)
}

func TestExtractor_EmptyHistorySkipsCall(t *testing.T) {
	called := false
	generator := llm.GeneratorFunc(func(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*llm.Result, error) {
		called = true
		return nil, nil
	})
	extractor := NewExtractor(generator, Config{}, zap.NewNop())

	decisions, errors, degraded := extractor.Extract(context.Background(), "wf-1", nil)

	assert.False(t, called)
	assert.False(t, degraded)
	assert.Empty(t, decisions)
	assert.Empty(t, errors)
}

func TestExtractor_TransportFailureDegrades(t *testing.T) {
	generator := llm.GeneratorFunc(func(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*llm.Result, error) {
		return nil, types.NewError(types.ErrServiceUnavailable, "provider down")
	})
	extractor := NewExtractor(generator, Config{}, zap.NewNop())

	decisions, errors, degraded := extractor.Extract(context.Background(), "wf-1", []string{"entry"})

	assert.True(t, degraded)
	assert.Empty(t, decisions)
	assert.Empty(t, errors)
}

func TestExtractor_SchemaViolationDegrades(t *testing.T) {
	// "severity" is not a valid category and "message" is missing.
	payload := `{
		"decisions": [{"category": "severity", "description": "x"}],
		"errors": [{"type": "build_error", "resolution": "fixed"}]
	}`
	extractor := NewExtractor(fixedResponse(payload), Config{}, zap.NewNop())

	decisions, errors, degraded := extractor.Extract(context.Background(), "wf-1", []string{"entry"})

	assert.True(t, degraded)
	assert.Empty(t, decisions)
	assert.Empty(t, errors)
}

func TestExtractor_InvalidJSONDegrades(t *testing.T) {
	extractor := NewExtractor(fixedResponse(`{"decisions": [`), Config{}, zap.NewNop())

	_, _, degraded := extractor.Extract(context.Background(), "wf-1", []string{"entry"})

	assert.True(t, degraded)
}

func TestExtractor_HistoryWindowKeepsNewest(t *testing.T) {
	var prompt string
	generator := llm.GeneratorFunc(func(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*llm.Result, error) {
		prompt = messages[len(messages)-1].Content
		return &llm.Result{JSON: json.RawMessage(`{"decisions": [], "errors": []}`)}, nil
	})
	extractor := NewExtractor(generator, Config{MaxEntries: 2}, zap.NewNop())

	_, _, degraded := extractor.Extract(context.Background(), "wf-1", []string{"oldest", "middle", "newest"})

	assert.False(t, degraded)
	assert.NotContains(t, prompt, "oldest")
	assert.Contains(t, prompt, "middle")
	assert.Contains(t, prompt, "newest")
}
