package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/capacity"
	"github.com/continuumhq/continuum/events"
	"github.com/continuumhq/continuum/gitstate"
	"github.com/continuumhq/continuum/internal/metrics"
	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
)

// DefaultBoundaryTimeout bounds how long a pause waits for the running
// task to finish before proceeding as a forced pause.
const DefaultBoundaryTimeout = 5 * time.Minute

// GitInspector captures repository state read-only. A nil inspector
// disables git capture; snapshots then carry no GitState.
type GitInspector interface {
	Capture(ctx context.Context, startCommit string) (*gitstate.State, error)
}

// Extractor distills session history into structured records. degraded
// is true when the lists are empty by fallback rather than by fact.
type Extractor interface {
	Extract(ctx context.Context, workflowID string, history []string) (decisions []snapshot.Decision, errors []snapshot.ErrorRecord, degraded bool)
}

// Deps bundles the collaborators a machine composes. Store, Snapshots,
// and Compiler are required; the rest may be nil and degrade to no-ops.
type Deps struct {
	Store     *Store
	Snapshots snapshot.Store
	Inspector GitInspector
	Extractor Extractor
	Compiler  *snapshot.Compiler
	Bus       events.Bus
	Metrics   *metrics.Collector
	Logger    *zap.Logger

	// BoundaryTimeout overrides DefaultBoundaryTimeout when positive.
	BoundaryTimeout time.Duration
	// Capacity configures each machine's per-session capacity monitor.
	Capacity capacity.Config

	// clock is overridable in tests.
	clock func() time.Time
}

func (d *Deps) fill() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = events.NewMemoryBus(d.Logger)
	}
	if d.Compiler == nil {
		d.Compiler = snapshot.NewCompiler(snapshot.CompilerConfig{})
	}
	if d.BoundaryTimeout <= 0 {
		d.BoundaryTimeout = DefaultBoundaryTimeout
	}
	if d.clock == nil {
		d.clock = time.Now
	}
}

// View is the read-only projection of a machine served by the API.
type View struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Summary        string    `json:"summary,omitempty"`
	Status         Status    `json:"status"`
	SessionCount   int       `json:"session_count"`
	PauseReason    string    `json:"pause_reason,omitempty"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksRemaining int       `json:"tasks_remaining"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	NextTaskID     string    `json:"next_task_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ResumeResult is what resume hands back to the orchestrator: the brief
// that seeds the next session's first LLM call plus the snapshot it was
// compiled from.
type ResumeResult struct {
	WorkflowID    string   `json:"workflow_id"`
	SessionNumber int      `json:"session_number"`
	SnapshotID    string   `json:"snapshot_id"`
	Brief         string   `json:"brief"`
	Divergence    []string `json:"divergence,omitempty"`
}

// Machine is the single-owner state machine for one workflow. All
// mutating calls for a workflow id go through its machine; the internal
// mutex is never held across the task-boundary wait or any LLM call that
// is not part of a committed pause.
type Machine struct {
	id   string
	deps Deps

	mu     sync.Mutex
	record *Record
	graph  *task.Graph

	// pause coordination
	pausePending bool
	boundary     chan struct{}
	cancelled    chan struct{}

	// session accumulators, cleared on resume
	history   []string
	feedback  []snapshot.ReviewerFeedback
	testState *snapshot.TestState

	monitor *capacity.Monitor
	logger  *zap.Logger
}

func newMachine(record *Record, graph *task.Graph, deps Deps) *Machine {
	m := &Machine{
		id:        record.ID,
		deps:      deps,
		record:    record,
		graph:     graph,
		cancelled: make(chan struct{}),
		logger: deps.Logger.With(
			zap.String("component", "workflow_machine"),
			zap.String("workflow_id", record.ID),
		),
	}
	m.monitor = capacity.NewMonitor(deps.Capacity, m.onCapacityExhausted, deps.Logger)
	return m
}

// ID returns the workflow id.
func (m *Machine) ID() string {
	return m.id
}

// View returns a consistent read-only projection.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	completed, remaining := m.graph.Counts()
	return View{
		ID:             m.record.ID,
		Name:           m.record.Name,
		Summary:        m.record.Summary,
		Status:         Status(m.record.Status),
		SessionCount:   m.record.SessionCount,
		PauseReason:    m.record.PauseReason,
		TasksCompleted: completed,
		TasksRemaining: remaining,
		CurrentTaskID:  m.currentTaskLocked(),
		NextTaskID:     m.graph.Next(),
		CreatedAt:      m.record.CreatedAt,
		UpdatedAt:      m.record.UpdatedAt,
	}
}

// Start moves the workflow from pending to in_progress.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transitionLocked(ctx, StatusInProgress); err != nil {
		return err
	}
	m.publish(ctx, events.Event{Type: events.WorkflowStarted, WorkflowID: m.id})
	m.logger.Info("workflow started")
	return nil
}

// Complete moves the workflow to its terminal completed state.
func (m *Machine) Complete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transitionLocked(ctx, StatusCompleted); err != nil {
		return err
	}
	m.publish(ctx, events.Event{Type: events.WorkflowCompleted, WorkflowID: m.id})
	m.logger.Info("workflow completed")
	return nil
}

// Fail moves the workflow to its terminal failed state.
func (m *Machine) Fail(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transitionLocked(ctx, StatusFailed); err != nil {
		return err
	}
	m.publish(ctx, events.Event{Type: events.WorkflowFailed, WorkflowID: m.id, Reason: reason})
	m.logger.Warn("workflow failed", zap.String("reason", reason))
	return nil
}

// Block marks the workflow as waiting on an external dependency.
func (m *Machine) Block(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, StatusBlocked)
}

// Unblock returns a blocked workflow to in_progress.
func (m *Machine) Unblock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Status(m.record.Status) != StatusBlocked {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot unblock workflow in status %s", m.record.Status)).WithWorkflow(m.id)
	}
	return m.transitionLocked(ctx, StatusInProgress)
}

// Cancel terminates the workflow. It is legal from any non-terminal
// status and takes precedence over an in-flight pause: a pause waiting
// for a task boundary aborts without writing a snapshot.
func (m *Machine) Cancel(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transitionLocked(ctx, StatusCancelled); err != nil {
		return err
	}
	select {
	case <-m.cancelled:
	default:
		close(m.cancelled)
	}
	m.publish(ctx, events.Event{Type: events.WorkflowCancelled, WorkflowID: m.id, Reason: reason})
	m.logger.Info("workflow cancelled", zap.String("reason", reason))
	return nil
}

// Pause runs the full pause contract: flag the request, wait for a task
// boundary (bounded by the timeout, after which the pause is forced),
// capture git state, run best-effort extraction, persist a snapshot with
// session_number equal to the current session count, transition to
// paused, and emit WORKFLOW_PAUSED. Returns the new snapshot id.
func (m *Machine) Pause(ctx context.Context, trigger snapshot.Trigger, reason string) (string, error) {
	m.mu.Lock()
	if Status(m.record.Status) != StatusInProgress {
		status := m.record.Status
		m.mu.Unlock()
		return "", types.NewError(types.ErrNotPausable,
			fmt.Sprintf("workflow is %s, only in_progress workflows can pause", status)).WithWorkflow(m.id)
	}
	if m.pausePending {
		m.mu.Unlock()
		return "", types.NewError(types.ErrNotPausable, "a pause is already in flight").WithWorkflow(m.id)
	}
	m.pausePending = true
	inFlight := len(m.graph.InProgress()) > 0
	var boundary chan struct{}
	if inFlight {
		boundary = make(chan struct{})
		m.boundary = boundary
	}
	cancelled := m.cancelled
	m.mu.Unlock()

	forced := false
	waitStart := m.deps.clock()
	if inFlight {
		// Wait without holding the lock so the running task can reach
		// its boundary through EndTask.
		timer := time.NewTimer(m.deps.BoundaryTimeout)
		defer timer.Stop()
		select {
		case <-boundary:
		case <-timer.C:
			forced = true
			trigger = snapshot.TriggerTimeout
			m.logger.Warn("task boundary timeout elapsed, forcing pause",
				zap.Duration("timeout", m.deps.BoundaryTimeout))
		case <-cancelled:
			m.clearPauseFlag()
			return "", types.NewError(types.ErrCancelled, "cancellation pre-empted the pause").WithWorkflow(m.id)
		case <-ctx.Done():
			m.clearPauseFlag()
			return "", types.NewError(types.ErrTimeout, "pause abandoned").WithCause(ctx.Err()).WithWorkflow(m.id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.pausePending = false
		m.boundary = nil
	}()

	// Cancellation may have won the race while we waited.
	if Status(m.record.Status) != StatusInProgress {
		return "", types.NewError(types.ErrCancelled,
			fmt.Sprintf("workflow moved to %s during the boundary wait", m.record.Status)).WithWorkflow(m.id)
	}

	boundaryWait := m.deps.clock().Sub(waitStart)
	buildStart := m.deps.clock()
	snap := m.buildSnapshotLocked(ctx, trigger, reason, forced)
	if err := m.deps.Snapshots.Append(ctx, snap); err != nil {
		existing, adoptErr := m.adoptLeftoverSnapshotLocked(ctx, err)
		if adoptErr != nil {
			return "", adoptErr
		}
		snap = existing
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordPause(string(snap.Trigger), snap.Forced, boundaryWait)
		m.deps.Metrics.RecordSnapshot(string(snap.Trigger), m.deps.clock().Sub(buildStart))
	}

	m.record.PauseReason = reason
	if err := m.transitionLocked(ctx, StatusPaused); err != nil {
		return "", err
	}

	m.publish(ctx, events.Event{
		Type:          events.SnapshotCreated,
		WorkflowID:    m.id,
		SnapshotID:    snap.ID,
		SessionNumber: snap.SessionNumber,
	})
	m.publish(ctx, events.Event{
		Type:       events.WorkflowPaused,
		WorkflowID: m.id,
		SnapshotID: snap.ID,
		Reason:     reason,
	})
	m.logger.Info("workflow paused",
		zap.String("snapshot_id", snap.ID),
		zap.Int("session_number", snap.SessionNumber),
		zap.String("trigger", string(snap.Trigger)),
		zap.Bool("forced", snap.Forced))
	return snap.ID, nil
}

// Resume loads the latest snapshot, compiles the resume brief, restores
// the task graph, increments the session count, and moves the workflow
// back to in_progress. State is fully restored before the status flips;
// no caller observes a running workflow with a half-restored graph.
func (m *Machine) Resume(ctx context.Context) (*ResumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Status(m.record.Status) != StatusPaused {
		return nil, types.NewError(types.ErrNotResumable,
			fmt.Sprintf("workflow is %s, only paused workflows can resume", m.record.Status)).WithWorkflow(m.id)
	}

	snap, err := m.deps.Snapshots.Latest(ctx, m.id)
	if err != nil {
		// A paused workflow without a snapshot means prior data loss.
		m.logger.Error("no snapshot for paused workflow", zap.Error(err))
		return nil, err
	}

	var divergence []string
	if m.deps.Inspector != nil && snap.Git != nil {
		live, captureErr := m.deps.Inspector.Capture(ctx, m.record.StartCommit)
		if captureErr != nil {
			m.logger.Warn("live git capture failed during resume", zap.Error(captureErr))
		} else if divergence = gitstate.Diverged(snap.Git, live); len(divergence) > 0 {
			m.logger.Warn("repository diverged since pause", zap.Strings("reasons", divergence))
		}
	}

	brief := m.deps.Compiler.Compile(snap, m.record.Summary, divergence)

	if err := m.graph.Restore(snap.Tasks); err != nil {
		return nil, err
	}

	previousReason := m.record.PauseReason
	m.record.SessionCount++
	m.record.PauseReason = ""
	if err := m.transitionLocked(ctx, StatusInProgress); err != nil {
		m.record.SessionCount--
		m.record.PauseReason = previousReason
		return nil, err
	}

	// Fresh execution context: the old history is compressed into the
	// brief, and the capacity budget starts over.
	m.history = nil
	m.feedback = nil
	m.testState = nil
	m.monitor.Reset()
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordResume()
	}

	m.publish(ctx, events.Event{
		Type:          events.WorkflowResumed,
		WorkflowID:    m.id,
		SnapshotID:    snap.ID,
		SessionNumber: m.record.SessionCount,
	})
	m.logger.Info("workflow resumed",
		zap.Int("session_count", m.record.SessionCount),
		zap.String("snapshot_id", snap.ID))

	return &ResumeResult{
		WorkflowID:    m.id,
		SessionNumber: m.record.SessionCount,
		SnapshotID:    snap.ID,
		Brief:         brief,
		Divergence:    divergence,
	}, nil
}

// BeginTask marks a task as executing. Its dependencies must all be
// completed.
func (m *Machine) BeginTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Status(m.record.Status) != StatusInProgress {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot begin a task while workflow is %s", m.record.Status)).WithWorkflow(m.id)
	}
	if err := m.graph.Start(taskID); err != nil {
		return err
	}
	m.record.CurrentTaskID = taskID
	return m.saveTasksLocked(ctx)
}

// EndTask marks the executing task completed or failed and signals any
// pause waiting at the boundary.
func (m *Machine) EndTask(ctx context.Context, taskID string, succeeded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if succeeded {
		err = m.graph.Complete(taskID)
	} else {
		err = m.graph.Fail(taskID)
	}
	if err != nil {
		return err
	}
	if m.record.CurrentTaskID == taskID {
		m.record.CurrentTaskID = ""
	}
	if err := m.saveTasksLocked(ctx); err != nil {
		return err
	}

	if succeeded {
		m.publish(ctx, events.Event{Type: events.TaskCompleted, WorkflowID: m.id, TaskID: taskID})
	}

	// Task boundary: release a waiting pause.
	if m.boundary != nil && len(m.graph.InProgress()) == 0 {
		close(m.boundary)
		m.boundary = nil
	}
	return nil
}

// ObserveUsage folds one LLM call's usage into the capacity monitor.
// Crossing the threshold queues an asynchronous capacity-exhaustion
// pause that executes at the next task boundary.
func (m *Machine) ObserveUsage(u types.TokenUsage) float64 {
	utilization := m.monitor.Observe(u)
	if m.deps.Metrics != nil {
		m.deps.Metrics.SetCapacityUtilization(m.id, utilization)
	}
	return utilization
}

// Usage returns the session's cumulative usage metrics.
func (m *Machine) Usage() types.UsageMetrics {
	return m.monitor.Metrics()
}

// RecordHistory appends one execution-history entry for later
// extraction.
func (m *Machine) RecordHistory(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
}

// RecordFeedback attaches reviewer feedback to the session.
func (m *Machine) RecordFeedback(feedback snapshot.ReviewerFeedback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, feedback)
}

// SetTestState records the latest test-suite status.
func (m *Machine) SetTestState(state *snapshot.TestState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testState = state
}

func (m *Machine) onCapacityExhausted(utilization float64) {
	ctx := context.Background()
	m.publish(ctx, events.Event{
		Type:       events.CapacityWarning,
		WorkflowID: m.id,
		Reason:     fmt.Sprintf("utilization %.2f crossed threshold", utilization),
	})
	if _, err := m.Pause(ctx, snapshot.TriggerCapacityExhaustion,
		fmt.Sprintf("capacity utilization reached %.0f%%", utilization*100)); err != nil {
		m.logger.Warn("capacity-exhaustion pause did not complete", zap.Error(err))
	}
}

// recover takes a crash-recovery snapshot for a workflow found
// in_progress at startup and parks it as paused. There is no running
// task to wait for, so the boundary wait is skipped; any task recorded
// as in_progress marks the snapshot forced.
func (m *Machine) recover(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Status(m.record.Status) != StatusInProgress {
		return "", types.NewError(types.ErrNotPausable,
			fmt.Sprintf("workflow is %s, crash recovery applies to in_progress", m.record.Status)).WithWorkflow(m.id)
	}

	forced := len(m.graph.InProgress()) > 0
	snap := m.buildSnapshotLocked(ctx, snapshot.TriggerCrashRecovery, "process restarted with workflow in progress", forced)
	if err := m.deps.Snapshots.Append(ctx, snap); err != nil {
		existing, adoptErr := m.adoptLeftoverSnapshotLocked(ctx, err)
		if adoptErr != nil {
			return "", adoptErr
		}
		snap = existing
	}

	m.record.PauseReason = snap.Reason
	if err := m.transitionLocked(ctx, StatusPaused); err != nil {
		return "", err
	}
	m.publish(ctx, events.Event{
		Type:       events.WorkflowPaused,
		WorkflowID: m.id,
		SnapshotID: snap.ID,
		Reason:     snap.Reason,
	})
	m.logger.Warn("crash recovery parked workflow as paused",
		zap.String("snapshot_id", snap.ID),
		zap.Bool("forced", forced))
	return snap.ID, nil
}

// adoptLeftoverSnapshotLocked resolves an append that collided with a
// snapshot already stored for the current session. That snapshot was
// written by a pause that crashed between persisting the capture and
// flipping the status to paused; the stored capture is authoritative,
// so the caller adopts it and finishes the transition instead of
// failing and wedging the workflow.
func (m *Machine) adoptLeftoverSnapshotLocked(ctx context.Context, appendErr error) (*snapshot.SessionSnapshot, error) {
	if types.GetErrorCode(appendErr) != types.ErrDuplicateSnapshot {
		return nil, appendErr
	}
	existing, err := m.deps.Snapshots.Latest(ctx, m.id)
	if err != nil || existing.SessionNumber != m.record.SessionCount {
		return nil, appendErr
	}
	m.logger.Warn("adopting snapshot left by an interrupted pause",
		zap.String("snapshot_id", existing.ID),
		zap.Int("session_number", existing.SessionNumber))
	return existing, nil
}

// buildSnapshotLocked assembles the immutable capture. Extraction and
// git capture failures degrade; they never abort a committed pause.
func (m *Machine) buildSnapshotLocked(ctx context.Context, trigger snapshot.Trigger, reason string, forced bool) *snapshot.SessionSnapshot {
	completed, remaining := m.graph.Counts()

	var git *gitstate.State
	if m.deps.Inspector != nil {
		state, err := m.deps.Inspector.Capture(ctx, m.record.StartCommit)
		if err != nil {
			m.logger.Warn("git capture failed, snapshot carries no git state", zap.Error(err))
		} else {
			git = state
		}
	}

	var decisions []snapshot.Decision
	var errorRecords []snapshot.ErrorRecord
	degraded := false
	if m.deps.Extractor != nil {
		decisions, errorRecords, degraded = m.deps.Extractor.Extract(ctx, m.id, m.history)
	} else if len(m.history) > 0 {
		degraded = true
	}

	return &snapshot.SessionSnapshot{
		ID:                 uuid.NewString(),
		WorkflowID:         m.id,
		SessionNumber:      m.record.SessionCount,
		CreatedAt:          m.deps.clock().UTC(),
		Trigger:            trigger,
		Reason:             reason,
		Forced:             forced,
		Tasks:              m.graph.Nodes(),
		CurrentTaskID:      m.currentTaskLocked(),
		NextTaskID:         m.graph.Next(),
		TasksCompleted:     completed,
		TasksRemaining:     remaining,
		Git:                git,
		Decisions:          decisions,
		Errors:             errorRecords,
		ExtractionDegraded: degraded,
		ReviewerFeedback:   m.feedback,
		TestState:          m.testState,
		Usage:              m.monitor.Metrics(),
	}
}

func (m *Machine) currentTaskLocked() string {
	if running := m.graph.InProgress(); len(running) > 0 {
		return running[0]
	}
	return ""
}

// transitionLocked validates the transition, persists the record, and
// applies the status in memory. Persistence failure leaves the in-memory
// status unchanged.
func (m *Machine) transitionLocked(ctx context.Context, to Status) error {
	from := Status(m.record.Status)
	if terr := checkTransition(from, to); terr != nil {
		return terr.WithWorkflow(m.id)
	}

	previous := m.record.Status
	m.record.Status = string(to)
	if err := m.record.EncodeTasks(m.graph.Nodes()); err != nil {
		m.record.Status = previous
		return err
	}
	if err := m.deps.Store.Save(ctx, m.record); err != nil {
		m.record.Status = previous
		return err
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordTransition(previous, string(to))
	}
	return nil
}

func (m *Machine) saveTasksLocked(ctx context.Context) error {
	if err := m.record.EncodeTasks(m.graph.Nodes()); err != nil {
		return err
	}
	return m.deps.Store.Save(ctx, m.record)
}

func (m *Machine) clearPauseFlag() {
	m.mu.Lock()
	m.pausePending = false
	m.boundary = nil
	m.mu.Unlock()
}

func (m *Machine) publish(ctx context.Context, event events.Event) {
	event.Timestamp = m.deps.clock().UTC()
	if err := m.deps.Bus.Publish(ctx, event); err != nil {
		m.logger.Warn("event publish failed",
			zap.String("type", string(event.Type)), zap.Error(err))
	}
}
