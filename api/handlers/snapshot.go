package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/types"
)

// SnapshotHandler serves read-only access to the snapshot history.
// Snapshots are immutable, so there are no mutating endpoints.
type SnapshotHandler struct {
	store  snapshot.Store
	logger *zap.Logger
}

// NewSnapshotHandler creates a snapshot handler.
func NewSnapshotHandler(store snapshot.Store, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		store:  store,
		logger: logger.Named("api.snapshot"),
	}
}

// HandleList lists snapshot summaries for a workflow, oldest first.
// GET /workflows/{id}/snapshots
func (h *SnapshotHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, summaries)
}

// HandleGet returns one full snapshot document.
// GET /workflows/{id}/snapshots/{snapshot_id}
func (h *SnapshotHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, snap)
}

// HandleLatest returns the most recent snapshot for a workflow.
// GET /workflows/{id}/snapshots/latest
func (h *SnapshotHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Latest(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, snap)
}

// HandleDecisions returns the full decision list of a snapshot. The
// resume brief truncates decisions; this endpoint never does.
// GET /workflows/{id}/snapshots/{snapshot_id}/decisions
func (h *SnapshotHandler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, snap.Decisions)
}

// HandleErrors returns the full error-record list of a snapshot.
// GET /workflows/{id}/snapshots/{snapshot_id}/errors
func (h *SnapshotHandler) HandleErrors(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, snap.Errors)
}

func (h *SnapshotHandler) load(w http.ResponseWriter, r *http.Request) (*snapshot.SessionSnapshot, bool) {
	snap, err := h.store.Get(r.Context(), r.PathValue("snapshot_id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return nil, false
	}
	// The route nests snapshots under their workflow; reject a snapshot
	// id reached through the wrong workflow.
	if workflowID := r.PathValue("id"); workflowID != "" && snap.WorkflowID != workflowID {
		WriteError(w, types.NewError(types.ErrSnapshotNotFound, "snapshot not found for workflow"), h.logger)
		return nil, false
	}
	return snap, true
}
