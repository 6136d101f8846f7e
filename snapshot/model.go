// Package snapshot defines the immutable session capture taken at a
// pause boundary, its durable append-only stores, and the compiler that
// renders a snapshot into a bounded resume brief.
package snapshot

import (
	"time"

	"github.com/continuumhq/continuum/gitstate"
	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
)

// Trigger identifies what caused a snapshot to be taken.
type Trigger string

const (
	TriggerExplicitPause      Trigger = "explicit-pause"
	TriggerTaskComplete       Trigger = "task-complete"
	TriggerCapacityExhaustion Trigger = "capacity-exhaustion"
	TriggerTimeout            Trigger = "timeout"
	TriggerCrashRecovery      Trigger = "crash-recovery"
)

// DecisionCategory classifies a significant choice.
type DecisionCategory string

const (
	CategoryApproach      DecisionCategory = "approach"
	CategoryLibrary       DecisionCategory = "library"
	CategoryArchitecture  DecisionCategory = "architecture"
	CategoryWorkaround    DecisionCategory = "workaround"
	CategorySkip          DecisionCategory = "skip"
	CategoryClarification DecisionCategory = "clarification"
)

// Decision is a structured record of a significant choice made during a
// session. Decisions are produced only by the extractor, never
// hand-authored.
type Decision struct {
	ID           string           `json:"id" bson:"id"`
	Category     DecisionCategory `json:"category" bson:"category"`
	Description  string           `json:"description" bson:"description"`
	Rationale    string           `json:"rationale,omitempty" bson:"rationale,omitempty"`
	Alternatives []string         `json:"alternatives,omitempty" bson:"alternatives,omitempty"`
	CreatedAt    time.Time        `json:"created_at" bson:"created_at"`
}

// Resolution is the state of an error at snapshot time.
type Resolution string

const (
	ResolutionFixed      Resolution = "fixed"
	ResolutionWorkaround Resolution = "workaround"
	ResolutionDeferred   Resolution = "deferred"
	ResolutionUnresolved Resolution = "unresolved"
)

// ErrorRecord is a structured record of an error encountered during a
// session.
type ErrorRecord struct {
	ID         string     `json:"id" bson:"id"`
	Type       string     `json:"type" bson:"type"`
	Message    string     `json:"message" bson:"message"`
	Context    string     `json:"context,omitempty" bson:"context,omitempty"`
	Resolution Resolution `json:"resolution" bson:"resolution"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

// ReviewerFeedback is a reviewer's comment thread on one task.
type ReviewerFeedback struct {
	Reviewer  string   `json:"reviewer" bson:"reviewer"`
	TaskID    string   `json:"task_id,omitempty" bson:"task_id,omitempty"`
	Comments  []string `json:"comments" bson:"comments"`
	Addressed bool     `json:"addressed" bson:"addressed"`
}

// TestState captures the test suite status at snapshot time.
type TestState struct {
	Framework    string    `json:"framework,omitempty" bson:"framework,omitempty"`
	Passing      int       `json:"passing" bson:"passing"`
	Failing      int       `json:"failing" bson:"failing"`
	FailingTests []string  `json:"failing_tests,omitempty" bson:"failing_tests,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty" bson:"last_run,omitempty"`
}

// SessionSnapshot is an immutable, point-in-time capture of a workflow
// taken at a task boundary. (WorkflowID, SessionNumber) is unique; a
// snapshot is never mutated after creation, a new one is always appended.
type SessionSnapshot struct {
	ID            string    `json:"id" bson:"id"`
	WorkflowID    string    `json:"workflow_id" bson:"workflow_id"`
	SessionNumber int       `json:"session_number" bson:"session_number"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	Trigger       Trigger   `json:"trigger" bson:"trigger"`
	Reason        string    `json:"reason,omitempty" bson:"reason,omitempty"`
	// Forced is true when the pause proceeded past the task-boundary
	// timeout with a task still running.
	Forced bool `json:"forced,omitempty" bson:"forced,omitempty"`

	Tasks          []task.Node `json:"tasks" bson:"tasks"`
	CurrentTaskID  string      `json:"current_task_id,omitempty" bson:"current_task_id,omitempty"`
	NextTaskID     string      `json:"next_task_id,omitempty" bson:"next_task_id,omitempty"`
	TasksCompleted int         `json:"tasks_completed" bson:"tasks_completed"`
	TasksRemaining int         `json:"tasks_remaining" bson:"tasks_remaining"`

	Git *gitstate.State `json:"git,omitempty" bson:"git,omitempty"`

	Decisions []Decision    `json:"decisions" bson:"decisions"`
	Errors    []ErrorRecord `json:"errors" bson:"errors"`
	// ExtractionDegraded is set when the decision extractor failed and the
	// lists above are empty by fallback rather than by fact.
	ExtractionDegraded bool `json:"extraction_degraded,omitempty" bson:"extraction_degraded,omitempty"`

	ReviewerFeedback []ReviewerFeedback `json:"reviewer_feedback,omitempty" bson:"reviewer_feedback,omitempty"`
	TestState        *TestState         `json:"test_state,omitempty" bson:"test_state,omitempty"`

	Usage types.UsageMetrics `json:"usage" bson:"usage"`
}

// Summary is the listing view of a snapshot, kept in indexed columns so
// listing does not deserialize full documents.
type Summary struct {
	ID             string    `json:"id"`
	SessionNumber  int       `json:"session_number"`
	Trigger        Trigger   `json:"trigger"`
	CreatedAt      time.Time `json:"created_at"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksRemaining int       `json:"tasks_remaining"`
}

// UnresolvedErrors returns the errors still marked unresolved.
func (s *SessionSnapshot) UnresolvedErrors() []ErrorRecord {
	var out []ErrorRecord
	for _, e := range s.Errors {
		if e.Resolution == ResolutionUnresolved {
			out = append(out, e)
		}
	}
	return out
}

// ResolvedErrors returns the errors that are no longer unresolved.
func (s *SessionSnapshot) ResolvedErrors() []ErrorRecord {
	var out []ErrorRecord
	for _, e := range s.Errors {
		if e.Resolution != ResolutionUnresolved {
			out = append(out, e)
		}
	}
	return out
}

// CompletedTasks returns the ids of completed task nodes.
func (s *SessionSnapshot) CompletedTasks() []string {
	var out []string
	for _, n := range s.Tasks {
		if n.Status == task.StatusCompleted {
			out = append(out, n.ID)
		}
	}
	return out
}

// PendingTasks returns the ids of tasks not yet completed.
func (s *SessionSnapshot) PendingTasks() []string {
	var out []string
	for _, n := range s.Tasks {
		if n.Status != task.StatusCompleted {
			out = append(out, n.ID)
		}
	}
	return out
}
