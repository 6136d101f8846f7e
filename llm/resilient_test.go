package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/structured"
	"github.com/continuumhq/continuum/types"
)

func fastConfig() ResilientConfig {
	return ResilientConfig{
		CallTimeout:  time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
}

func TestResilientGenerator_SuccessFirstTry(t *testing.T) {
	inner := GeneratorFunc(func(ctx context.Context, msgs []types.Message, schema *structured.JSONSchema) (*Result, error) {
		return &Result{JSON: json.RawMessage(`{}`), ConversationID: "c1"}, nil
	})

	g := NewResilientGenerator(inner, fastConfig(), zap.NewNop())
	res, err := g.Generate(context.Background(), []types.Message{types.UserMessage("hi")}, nil)

	require.NoError(t, err)
	assert.Equal(t, "c1", res.ConversationID)
}

func TestResilientGenerator_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	inner := GeneratorFunc(func(ctx context.Context, msgs []types.Message, schema *structured.JSONSchema) (*Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return &Result{JSON: json.RawMessage(`{}`)}, nil
	})

	g := NewResilientGenerator(inner, fastConfig(), zap.NewNop())
	_, err := g.Generate(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResilientGenerator_StopsOnNonRetryable(t *testing.T) {
	var calls atomic.Int32
	inner := GeneratorFunc(func(ctx context.Context, msgs []types.Message, schema *structured.JSONSchema) (*Result, error) {
		calls.Add(1)
		return nil, types.NewError(types.ErrAuthentication, "bad key").WithRetryable(false)
	})

	g := NewResilientGenerator(inner, fastConfig(), zap.NewNop())
	_, err := g.Generate(context.Background(), nil, nil)

	require.Error(t, err)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResilientGenerator_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	inner := GeneratorFunc(func(ctx context.Context, msgs []types.Message, schema *structured.JSONSchema) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("upstream flaked")
	})

	g := NewResilientGenerator(inner, fastConfig(), zap.NewNop())
	_, err := g.Generate(context.Background(), nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResilientGenerator_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBackoff = time.Minute

	inner := GeneratorFunc(func(ctx context.Context, msgs []types.Message, schema *structured.JSONSchema) (*Result, error) {
		return nil, errors.New("flaky")
	})

	ctx, cancel := context.WithCancel(context.Background())
	g := NewResilientGenerator(inner, cfg, zap.NewNop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := g.Generate(ctx, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}
