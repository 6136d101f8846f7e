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

func TestStore_RecordRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	record := &Record{
		ID:           "wf-1",
		Name:         "feature",
		Summary:      "ship it",
		Status:       string(StatusPending),
		SessionCount: 1,
		StartCommit:  "aaa111",
	}
	require.NoError(t, record.EncodeTasks(fiveTaskNodes()))
	require.NoError(t, env.store.Create(ctx, record))

	loaded, err := env.store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "feature", loaded.Name)
	assert.Equal(t, 1, loaded.SessionCount)

	nodes, err := loaded.DecodeTasks()
	require.NoError(t, err)
	require.Len(t, nodes, 5)
	assert.Equal(t, task.StatusPending, nodes[0].Status)
}

func TestStore_GetUnknown(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestStore_ListByStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	m := startedWorkflow(t, env)
	_, err := env.registry.Create(ctx, "idle", "", fiveTaskNodes())
	require.NoError(t, err)

	running, err := env.store.ListByStatus(ctx, StatusInProgress)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, m.ID(), running[0].ID)

	pending, err := env.store.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStore_SavePersistsStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	m := startedWorkflow(t, env)

	loaded, err := env.store.Get(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, string(StatusInProgress), loaded.Status)

	_, err = m.Pause(ctx, snapshot.TriggerExplicitPause, "checkpoint")
	require.NoError(t, err)

	loaded, err = env.store.Get(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, string(StatusPaused), loaded.Status)
	assert.Equal(t, "checkpoint", loaded.PauseReason)
}
