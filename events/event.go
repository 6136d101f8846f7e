// Package events carries workflow lifecycle notifications to
// subscribers, in-process and over Redis pub/sub.
package events

import (
	"context"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	WorkflowStarted   Type = "WORKFLOW_STARTED"
	WorkflowPaused    Type = "WORKFLOW_PAUSED"
	WorkflowResumed   Type = "WORKFLOW_RESUMED"
	WorkflowCompleted Type = "WORKFLOW_COMPLETED"
	WorkflowFailed    Type = "WORKFLOW_FAILED"
	WorkflowCancelled Type = "WORKFLOW_CANCELLED"
	SnapshotCreated   Type = "SNAPSHOT_CREATED"
	CapacityWarning   Type = "CAPACITY_WARNING"
	TaskCompleted     Type = "TASK_COMPLETED"
)

// Event is a single lifecycle notification.
type Event struct {
	Type          Type      `json:"type"`
	WorkflowID    string    `json:"workflow_id"`
	SnapshotID    string    `json:"snapshot_id,omitempty"`
	SessionNumber int       `json:"session_number,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Bus publishes lifecycle events. Publishing must never block workflow
// progress; implementations drop or buffer rather than stall.
type Bus interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber is a Bus that also supports in-process subscriptions.
type Subscriber interface {
	Bus
	// Subscribe returns a channel of future events and a cancel function.
	// The channel is closed on cancel.
	Subscribe() (<-chan Event, func())
}
