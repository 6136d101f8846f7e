// Package workflow implements the per-workflow state machine that
// coordinates pause and resume: it owns the workflow status, enforces
// legal transitions, and composes the git inspector, decision extractor,
// snapshot store, resume compiler, and capacity monitor.
package workflow

import (
	"fmt"

	"github.com/continuumhq/continuum/types"
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the full legal-transition table. Anything absent is an
// InvalidTransition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusBlocked, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusBlocked:    {StatusInProgress, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// Statuses returns every defined status.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusInProgress, StatusBlocked, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a typed InvalidTransition error when from -> to
// is illegal, nil otherwise. State is never changed on rejection.
func checkTransition(from, to Status) *types.Error {
	if !CanTransition(from, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", from, to))
	}
	return nil
}
