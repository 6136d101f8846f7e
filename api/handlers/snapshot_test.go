package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/types"
)

// pauseOnce drives a workflow through one pause and returns its ids.
func pauseOnce(t *testing.T, env *apiEnv) (workflowID, snapshotID string) {
	t.Helper()
	workflowID = env.startWorkflow(t)

	w, resp := env.do(t, http.MethodPost, "/workflows/"+workflowID+"/pause", PauseRequest{Reason: "review"})
	require.Equal(t, http.StatusOK, w.Code)

	var paused PauseResponse
	decodeData(t, resp, &paused)
	return workflowID, paused.SnapshotID
}

func TestSnapshotHandler_List(t *testing.T) {
	env := newAPIEnv(t)
	workflowID, snapshotID := pauseOnce(t, env)

	w, resp := env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []snapshot.Summary
	decodeData(t, resp, &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, snapshotID, summaries[0].ID)
	assert.Equal(t, 1, summaries[0].SessionNumber)
	assert.Equal(t, snapshot.TriggerExplicitPause, summaries[0].Trigger)
	assert.Equal(t, 1, summaries[0].TasksCompleted)
	assert.Equal(t, 2, summaries[0].TasksRemaining)
}

func TestSnapshotHandler_ListEmpty(t *testing.T) {
	env := newAPIEnv(t)
	workflowID := env.createWorkflow(t)

	w, resp := env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []snapshot.Summary
	decodeData(t, resp, &summaries)
	assert.Empty(t, summaries)
}

func TestSnapshotHandler_Get(t *testing.T) {
	env := newAPIEnv(t)
	workflowID, snapshotID := pauseOnce(t, env)

	w, resp := env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots/"+snapshotID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var snap snapshot.SessionSnapshot
	decodeData(t, resp, &snap)
	assert.Equal(t, snapshotID, snap.ID)
	assert.Equal(t, workflowID, snap.WorkflowID)
	assert.Equal(t, "review", snap.Reason)
	assert.Len(t, snap.Tasks, 3)
}

func TestSnapshotHandler_GetUnknown(t *testing.T) {
	env := newAPIEnv(t)
	workflowID := env.createWorkflow(t)

	w, resp := env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrSnapshotNotFound), resp.Error.Code)
}

func TestSnapshotHandler_GetWrongWorkflow(t *testing.T) {
	env := newAPIEnv(t)
	_, snapshotID := pauseOnce(t, env)
	other := env.createWorkflow(t)

	w, _ := env.do(t, http.MethodGet, "/workflows/"+other+"/snapshots/"+snapshotID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotHandler_Latest(t *testing.T) {
	env := newAPIEnv(t)
	workflowID, _ := pauseOnce(t, env)

	// Resume and pause again so there are two snapshots.
	w, _ := env.do(t, http.MethodPost, "/workflows/"+workflowID+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, resp := env.do(t, http.MethodPost, "/workflows/"+workflowID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second PauseResponse
	decodeData(t, resp, &second)

	w, resp = env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots/latest", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var snap snapshot.SessionSnapshot
	decodeData(t, resp, &snap)
	assert.Equal(t, second.SnapshotID, snap.ID)
	assert.Equal(t, 2, snap.SessionNumber)
}

func TestSnapshotHandler_DecisionsAndErrors(t *testing.T) {
	env := newAPIEnv(t)
	workflowID, snapshotID := pauseOnce(t, env)

	w, resp := env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots/"+snapshotID+"/decisions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var decisions []snapshot.Decision
	decodeData(t, resp, &decisions)
	assert.Empty(t, decisions)

	w, resp = env.do(t, http.MethodGet, "/workflows/"+workflowID+"/snapshots/"+snapshotID+"/errors", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var errs []snapshot.ErrorRecord
	decodeData(t, resp, &errs)
	assert.Empty(t, errs)
}
