package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
)

// Registry is the concurrent-safe map of addressable machines, one per
// workflow id. Unrelated workflows share no locks; each machine is its
// own single-owner execution context.
type Registry struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.RWMutex
	machines map[string]*Machine
}

// NewRegistry creates a registry. Deps are shared across machines except
// for the per-machine capacity monitor.
func NewRegistry(deps Deps) *Registry {
	deps.fill()
	return &Registry{
		deps:     deps,
		logger:   deps.Logger.With(zap.String("component", "workflow_registry")),
		machines: make(map[string]*Machine),
	}
}

// Create persists a new pending workflow with the given task graph and
// registers its machine.
func (r *Registry) Create(ctx context.Context, name, summary string, nodes []task.Node) (*Machine, error) {
	graph, err := task.NewGraph(nodes)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid task graph").WithCause(err)
	}

	record := &Record{
		ID:           uuid.NewString(),
		Name:         name,
		Summary:      summary,
		Status:       string(StatusPending),
		SessionCount: 1,
	}
	if r.deps.Inspector != nil {
		if state, captureErr := r.deps.Inspector.Capture(ctx, ""); captureErr == nil {
			record.StartCommit = state.HeadCommit
		}
	}
	if err := record.EncodeTasks(nodes); err != nil {
		return nil, err
	}
	if err := r.deps.Store.Create(ctx, record); err != nil {
		return nil, err
	}

	machine := newMachine(record, graph, r.deps)
	r.mu.Lock()
	r.machines[record.ID] = machine
	r.mu.Unlock()

	r.logger.Info("workflow created",
		zap.String("workflow_id", record.ID),
		zap.String("name", name),
		zap.Int("tasks", len(nodes)))
	return machine, nil
}

// Get returns the machine for a workflow id.
func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	machine, ok := r.machines[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrWorkflowNotFound, "workflow not found").WithWorkflow(id)
	}
	return machine, nil
}

// List returns a view of every registered machine, newest first.
func (r *Registry) List() []View {
	r.mu.RLock()
	views := make([]View, 0, len(r.machines))
	for _, machine := range r.machines {
		views = append(views, machine.View())
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Recover loads every non-terminal workflow from the store into the
// registry. Workflows found in_progress were abandoned by a crash; each
// gets a crash-recovery snapshot and is parked as paused. Returns the
// number of workflows recovered that way.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	records, err := r.deps.Store.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range records {
		record := records[i]
		status := Status(record.Status)
		if !status.Valid() || status.Terminal() {
			continue
		}

		nodes, err := record.DecodeTasks()
		if err != nil {
			r.logger.Error("skipping workflow with undecodable task graph",
				zap.String("workflow_id", record.ID), zap.Error(err))
			continue
		}
		graph, err := task.NewGraph(nodes)
		if err != nil {
			r.logger.Error("skipping workflow with invalid task graph",
				zap.String("workflow_id", record.ID), zap.Error(err))
			continue
		}

		machine := newMachine(&record, graph, r.deps)
		r.mu.Lock()
		r.machines[record.ID] = machine
		r.mu.Unlock()

		if status == StatusInProgress {
			if _, err := machine.recover(ctx); err != nil {
				r.logger.Error("crash recovery failed",
					zap.String("workflow_id", record.ID), zap.Error(err))
				continue
			}
			recovered++
		}
	}

	r.logger.Info("registry recovery complete",
		zap.Int("loaded", len(r.machines)),
		zap.Int("crash_recovered", recovered))
	return recovered, nil
}
