package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/continuumhq/continuum/capacity"
	"github.com/continuumhq/continuum/events"
	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/workflow"
)

// apiEnv wires a registry, stores, and a routed mux the way the server
// does, against an in-memory database.
type apiEnv struct {
	registry  *workflow.Registry
	snapshots snapshot.Store
	bus       *events.MemoryBus
	mux       *http.ServeMux
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	logger := zap.NewNop()

	store := workflow.NewStore(db, logger)
	require.NoError(t, store.AutoMigrate())
	snapshots := snapshot.NewGormStore(db, logger)
	require.NoError(t, snapshots.AutoMigrate())

	bus := events.NewMemoryBus(logger)
	registry := workflow.NewRegistry(workflow.Deps{
		Store:     store,
		Snapshots: snapshots,
		Compiler:  snapshot.NewCompiler(snapshot.DefaultCompilerConfig()),
		Bus:       bus,
		Capacity:  capacity.Config{ContextBudgetTokens: 1_000_000},
		Logger:    logger,
	})

	wh := NewWorkflowHandler(registry, logger)
	sh := NewSnapshotHandler(snapshots, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /workflows", wh.HandleCreate)
	mux.HandleFunc("GET /workflows", wh.HandleList)
	mux.HandleFunc("GET /workflows/{id}", wh.HandleGet)
	mux.HandleFunc("POST /workflows/{id}/start", wh.HandleStart)
	mux.HandleFunc("POST /workflows/{id}/pause", wh.HandlePause)
	mux.HandleFunc("POST /workflows/{id}/resume", wh.HandleResume)
	mux.HandleFunc("POST /workflows/{id}/cancel", wh.HandleCancel)
	mux.HandleFunc("POST /workflows/{id}/tasks/{task_id}/start", wh.HandleBeginTask)
	mux.HandleFunc("POST /workflows/{id}/tasks/{task_id}/finish", wh.HandleEndTask)
	mux.HandleFunc("GET /workflows/{id}/snapshots", sh.HandleList)
	mux.HandleFunc("GET /workflows/{id}/snapshots/latest", sh.HandleLatest)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}", sh.HandleGet)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}/decisions", sh.HandleDecisions)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}/errors", sh.HandleErrors)

	return &apiEnv{
		registry:  registry,
		snapshots: snapshots,
		bus:       bus,
		mux:       mux,
	}
}

// do runs a request through the mux and decodes the response envelope.
func (env *apiEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, r)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

// decodeData re-marshals the envelope's data field into dst.
func decodeData(t *testing.T, resp Response, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

// createWorkflow creates a three-task chain and returns its id.
func (env *apiEnv) createWorkflow(t *testing.T) string {
	t.Helper()

	w, resp := env.do(t, http.MethodPost, "/workflows", CreateWorkflowRequest{
		Name:    "build the importer",
		Summary: "Import legacy records into the new schema.",
		Tasks: []task.Node{
			{ID: "t1", Name: "scaffold"},
			{ID: "t2", Name: "model", DependsOn: []string{"t1"}},
			{ID: "t3", Name: "backfill", DependsOn: []string{"t2"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var view workflow.View
	decodeData(t, resp, &view)
	require.NotEmpty(t, view.ID)
	return view.ID
}

// startWorkflow creates a workflow, starts it, and completes the first
// task so a pause has real progress to capture.
func (env *apiEnv) startWorkflow(t *testing.T) string {
	t.Helper()
	id := env.createWorkflow(t)

	w, _ := env.do(t, http.MethodPost, "/workflows/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/workflows/"+id+"/tasks/t1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/workflows/"+id+"/tasks/t1/finish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	return id
}
