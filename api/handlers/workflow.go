package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
	"github.com/continuumhq/continuum/workflow"
)

// WorkflowHandler serves workflow lifecycle endpoints.
type WorkflowHandler struct {
	registry *workflow.Registry
	logger   *zap.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(registry *workflow.Registry, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		registry: registry,
		logger:   logger.Named("api.workflow"),
	}
}

// CreateWorkflowRequest is the POST /workflows body.
type CreateWorkflowRequest struct {
	Name    string      `json:"name"`
	Summary string      `json:"summary,omitempty"`
	Tasks   []task.Node `json:"tasks"`
}

// PauseRequest is the POST /workflows/{id}/pause body. The body is
// optional; an absent reason pauses without one.
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelRequest is the POST /workflows/{id}/cancel body.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PauseResponse reports the snapshot a pause produced.
type PauseResponse struct {
	WorkflowID string          `json:"workflow_id"`
	SnapshotID string          `json:"snapshot_id"`
	Status     workflow.Status `json:"status"`
}

// EndTaskRequest is the POST /workflows/{id}/tasks/{task_id}/finish body.
type EndTaskRequest struct {
	Succeeded bool `json:"succeeded"`
}

// HandleCreate creates a workflow from a task graph.
// POST /workflows
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "name is required"), h.logger)
		return
	}
	if len(req.Tasks) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "tasks cannot be empty"), h.logger)
		return
	}

	m, err := h.registry.Create(r.Context(), req.Name, req.Summary, req.Tasks)
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	h.logger.Info("workflow created",
		zap.String("workflow_id", m.ID()),
		zap.Int("tasks", len(req.Tasks)),
	)
	WriteData(w, http.StatusCreated, m.View())
}

// HandleList lists all known workflows.
// GET /workflows
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.registry.List())
}

// HandleGet returns one workflow.
// GET /workflows/{id}
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, m.View())
}

// HandleStart moves a workflow from pending to in_progress.
// POST /workflows/{id}/start
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	if err := m.Start(r.Context()); err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, m.View())
}

// HandlePause requests a pause at the next task boundary and blocks
// until the snapshot is durable. A workflow with a task in flight
// responds only after the boundary or the forced-pause timeout.
// POST /workflows/{id}/pause
func (h *WorkflowHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	var req PauseRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	snapshotID, err := m.Pause(r.Context(), snapshot.TriggerExplicitPause, req.Reason)
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	WriteSuccess(w, PauseResponse{
		WorkflowID: m.ID(),
		SnapshotID: snapshotID,
		Status:     workflow.StatusPaused,
	})
}

// HandleResume resumes a paused workflow and returns the compiled brief
// for the fresh session.
// POST /workflows/{id}/resume
func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	result, err := m.Resume(r.Context())
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleCancel cancels a workflow. Cancel wins against an in-flight
// pause and never writes a snapshot.
// POST /workflows/{id}/cancel
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if err := m.Cancel(r.Context(), req.Reason); err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, m.View())
}

// HandleBeginTask marks a task as started.
// POST /workflows/{id}/tasks/{task_id}/start
func (h *WorkflowHandler) HandleBeginTask(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	if err := m.BeginTask(r.Context(), r.PathValue("task_id")); err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, m.View())
}

// HandleEndTask marks a task as finished. This is the boundary a
// pending pause commits at.
// POST /workflows/{id}/tasks/{task_id}/finish
func (h *WorkflowHandler) HandleEndTask(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}

	req := EndTaskRequest{Succeeded: true}
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if err := m.EndTask(r.Context(), r.PathValue("task_id"), req.Succeeded); err != nil {
		WriteError(w, AsAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, m.View())
}
