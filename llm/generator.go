// Package llm defines the boundary to the external LLM transport. The
// engine sees only a structured-output generate capability; request
// batching, token accounting, and provider routing live outside.
package llm

import (
	"context"
	"encoding/json"

	"github.com/continuumhq/continuum/structured"
	"github.com/continuumhq/continuum/types"
)

// Result is the outcome of one structured-output call.
type Result struct {
	// JSON is the raw structured payload returned by the model. Callers
	// validate it against the schema they supplied before unmarshalling.
	JSON json.RawMessage
	// ConversationID is the transport-level conversation handle. It is
	// informational only: resumption always creates a new one.
	ConversationID string
	// Usage is the token/cost accounting reported for this call.
	Usage types.TokenUsage
}

// Generator is the structured-output LLM capability consumed by the
// decision extractor. Implementations may fail with transport errors;
// callers are expected to degrade rather than propagate.
type Generator interface {
	Generate(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*Result, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*Result, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, messages []types.Message, schema *structured.JSONSchema) (*Result, error) {
	return f(ctx, messages, schema)
}
