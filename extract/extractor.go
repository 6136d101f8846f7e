// Package extract turns a session's conversational history into the
// structured decision and error records stored in a snapshot. Extraction
// is best-effort: any failure degrades to empty lists so a pause can
// always complete.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/llm"
	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/structured"
	"github.com/continuumhq/continuum/types"
)

// Config controls extraction bounds.
type Config struct {
	// MaxEntries caps the number of history entries sent to the model,
	// keeping the extraction prompt bounded. Most recent entries win.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// MaxDecisions caps the decisions requested from the model.
	MaxDecisions int `yaml:"max_decisions" json:"max_decisions"`
	// MaxErrors caps the error records requested from the model.
	MaxErrors int `yaml:"max_errors" json:"max_errors"`
}

// DefaultConfig returns the default extraction bounds.
func DefaultConfig() Config {
	return Config{
		MaxEntries:   50,
		MaxDecisions: 20,
		MaxErrors:    20,
	}
}

// Extractor asks an LLM to distill decisions and errors from raw session
// history, validating the response against a fixed schema before mapping
// it into snapshot records.
type Extractor struct {
	generator llm.Generator
	validator *structured.Validator
	config    Config
	logger    *zap.Logger
	schema    *structured.JSONSchema
	now       func() time.Time
}

// NewExtractor creates an extractor backed by the given generator. Zero
// config values fall back to defaults.
func NewExtractor(generator llm.Generator, config Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.MaxDecisions <= 0 {
		config.MaxDecisions = def.MaxDecisions
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = def.MaxErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		generator: generator,
		validator: structured.NewValidator(),
		config:    config,
		logger:    logger.With(zap.String("component", "extractor")),
		schema:    buildSchema(config),
		now:       time.Now,
	}
}

// Extract distills the history into decision and error records. On any
// failure it returns empty lists and degraded=true; the error is logged,
// never propagated, so the caller's pause still completes.
func (e *Extractor) Extract(ctx context.Context, workflowID string, history []string) (decisions []snapshot.Decision, errors []snapshot.ErrorRecord, degraded bool) {
	if len(history) == 0 {
		return nil, nil, false
	}
	if len(history) > e.config.MaxEntries {
		history = history[len(history)-e.config.MaxEntries:]
	}

	result, err := e.generator.Generate(ctx, e.buildMessages(history), e.schema)
	if err != nil {
		e.logger.Warn("extraction call failed, degrading to empty lists",
			zap.String("workflow_id", workflowID),
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return nil, nil, true
	}

	if err := e.validator.Validate(result.JSON, e.schema); err != nil {
		e.logger.Warn("extraction response failed schema validation, degrading to empty lists",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return nil, nil, true
	}

	var payload extractionPayload
	if err := json.Unmarshal(result.JSON, &payload); err != nil {
		e.logger.Warn("extraction response unmarshal failed, degrading to empty lists",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return nil, nil, true
	}

	now := e.now()
	for _, d := range payload.Decisions {
		decisions = append(decisions, snapshot.Decision{
			ID:           uuid.NewString(),
			Category:     snapshot.DecisionCategory(d.Category),
			Description:  d.Description,
			Rationale:    d.Rationale,
			Alternatives: d.Alternatives,
			CreatedAt:    now,
		})
	}
	for _, r := range payload.Errors {
		errors = append(errors, snapshot.ErrorRecord{
			ID:         uuid.NewString(),
			Type:       r.Type,
			Message:    r.Message,
			Context:    r.Context,
			Resolution: snapshot.Resolution(r.Resolution),
			CreatedAt:  now,
		})
	}

	e.logger.Info("extraction completed",
		zap.String("workflow_id", workflowID),
		zap.Int("decisions", len(decisions)),
		zap.Int("errors", len(errors)),
		zap.Float64("cost", result.Usage.Cost))
	return decisions, errors, false
}

type extractionPayload struct {
	Decisions []struct {
		Category     string   `json:"category"`
		Description  string   `json:"description"`
		Rationale    string   `json:"rationale"`
		Alternatives []string `json:"alternatives"`
	} `json:"decisions"`
	Errors []struct {
		Type       string `json:"type"`
		Message    string `json:"message"`
		Context    string `json:"context"`
		Resolution string `json:"resolution"`
	} `json:"errors"`
}

const extractionInstruction = `You review the working history of a coding session and extract two lists.

1. decisions: significant choices made during the session. Classify each as
   approach, library, architecture, workaround, skip, or clarification.
   Record what was chosen, why, and alternatives that were considered.
2. errors: errors encountered during the session. Record the error type,
   message, surrounding context, and how it ended: fixed, workaround,
   deferred, or unresolved.

Only include items actually present in the history. Respond with JSON
matching the provided schema and nothing else.`

func (e *Extractor) buildMessages(history []string) []types.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Session history (%d entries, oldest first):\n\n", len(history))
	for i, entry := range history {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, entry)
	}
	return []types.Message{
		types.SystemMessage(extractionInstruction),
		types.UserMessage(b.String()),
	}
}

func buildSchema(config Config) *structured.JSONSchema {
	decision := structured.NewObjectSchema().
		AddProperty("category", structured.NewEnumSchema(
			string(snapshot.CategoryApproach),
			string(snapshot.CategoryLibrary),
			string(snapshot.CategoryArchitecture),
			string(snapshot.CategoryWorkaround),
			string(snapshot.CategorySkip),
			string(snapshot.CategoryClarification),
		)).
		AddProperty("description", structured.NewStringSchema()).
		AddProperty("rationale", structured.NewStringSchema()).
		AddProperty("alternatives", structured.NewArraySchema(structured.NewStringSchema())).
		AddRequired("category", "description")

	errorRecord := structured.NewObjectSchema().
		AddProperty("type", structured.NewStringSchema()).
		AddProperty("message", structured.NewStringSchema()).
		AddProperty("context", structured.NewStringSchema()).
		AddProperty("resolution", structured.NewEnumSchema(
			string(snapshot.ResolutionFixed),
			string(snapshot.ResolutionWorkaround),
			string(snapshot.ResolutionDeferred),
			string(snapshot.ResolutionUnresolved),
		)).
		AddRequired("type", "message", "resolution")

	return structured.NewObjectSchema().
		AddProperty("decisions", structured.NewArraySchema(decision).WithMaxItems(config.MaxDecisions)).
		AddProperty("errors", structured.NewArraySchema(errorRecord).WithMaxItems(config.MaxErrors)).
		AddRequired("decisions", "errors")
}
