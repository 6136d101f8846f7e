package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	m, err := env.registry.Create(ctx, "feature", "summary", fiveTaskNodes())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.View().Status)
	assert.Equal(t, 1, m.View().SessionCount)

	got, err := env.registry.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = env.registry.Get("nope")
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestRegistry_CreateRejectsCyclicGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.registry.Create(context.Background(), "broken", "", []task.Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
}

func TestRegistry_List(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.registry.Create(ctx, "one", "", fiveTaskNodes())
	require.NoError(t, err)
	_, err = env.registry.Create(ctx, "two", "", fiveTaskNodes())
	require.NoError(t, err)

	views := env.registry.List()
	assert.Len(t, views, 2)
}

// A process restart with an in_progress workflow parks it as paused
// behind a crash-recovery snapshot.
func TestRegistry_RecoverCrashedWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	m := startedWorkflow(t, env)
	require.NoError(t, m.BeginTask(ctx, "t3"))
	workflowID := m.ID()

	// Fresh registry over the same database, as after a restart.
	rebooted := NewRegistry(Deps{
		Store:     env.store,
		Snapshots: env.snapshots,
		Logger:    nil,
	})
	recovered, err := rebooted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	machine, err := rebooted.Get(workflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, machine.View().Status)

	snap, err := env.snapshots.Latest(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.TriggerCrashRecovery, snap.Trigger)
	assert.True(t, snap.Forced, "a task was in flight when the process died")
	assert.Equal(t, "t3", snap.CurrentTaskID)
	assert.Equal(t, 2, snap.TasksCompleted)

	// The recovered workflow resumes normally.
	result, err := machine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SessionNumber)
	assert.Contains(t, result.Brief, "Task in flight at pause: t3")
}

// A crash between the snapshot append and the paused save leaves the
// record in_progress with this session's snapshot already stored. The
// next recovery adopts that snapshot instead of wedging the workflow
// behind a duplicate-session collision.
func TestRegistry_RecoverAfterInterruptedPause(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	m := startedWorkflow(t, env)
	snapID, err := m.Pause(ctx, snapshot.TriggerExplicitPause, "lunch")
	require.NoError(t, err)

	// Rewind the status save, as if the process died right after the
	// snapshot append.
	record, err := env.store.Get(ctx, m.ID())
	require.NoError(t, err)
	record.Status = string(StatusInProgress)
	record.PauseReason = ""
	require.NoError(t, env.store.Save(ctx, record))

	rebooted := NewRegistry(Deps{Store: env.store, Snapshots: env.snapshots})
	recovered, err := rebooted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	machine, err := rebooted.Get(m.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, machine.View().Status)

	// The stored capture is the one the pause wrote, not a second one.
	snap, err := env.snapshots.Latest(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, snapID, snap.ID)
	assert.Equal(t, 1, snap.SessionNumber)

	// The workflow is not wedged: it resumes and pauses again normally.
	result, err := machine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SessionNumber)
	nextID, err := machine.Pause(ctx, snapshot.TriggerExplicitPause, "done for the day")
	require.NoError(t, err)
	assert.NotEqual(t, snapID, nextID)
}

func TestRegistry_RecoverSkipsTerminalWorkflows(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	m := startedWorkflow(t, env)
	require.NoError(t, m.Complete(ctx))

	rebooted := NewRegistry(Deps{Store: env.store, Snapshots: env.snapshots})
	recovered, err := rebooted.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	_, err = rebooted.Get(m.ID())
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestRegistry_RecoverLoadsPausedWorkflows(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	m := startedWorkflow(t, env)
	_, err := m.Pause(ctx, snapshot.TriggerExplicitPause, "overnight")
	require.NoError(t, err)

	rebooted := NewRegistry(Deps{Store: env.store, Snapshots: env.snapshots})
	recovered, err := rebooted.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	machine, err := rebooted.Get(m.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, machine.View().Status)
	assert.Equal(t, "overnight", machine.View().PauseReason)

	result, err := machine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SessionNumber)
}
