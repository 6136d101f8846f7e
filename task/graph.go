// Package task models the unit-of-work graph a workflow executes: a DAG
// of nodes with dependencies and per-node status. The snapshot layer
// treats the graph as a pluggable schema; only this package interprets it.
package task

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of a single task node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Node is one unit of work in the graph.
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Graph is a directed acyclic graph of task nodes. All mutating and
// reading methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// order preserves insertion order so Next() is deterministic.
	order []string
}

// NewGraph builds a graph from the given nodes. It rejects duplicate ids,
// unknown dependencies, and cycles.
func NewGraph(nodes []Node) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(nodes))}

	for i := range nodes {
		n := nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("task node at index %d has no id", i)
		}
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("duplicate task id: %s", n.ID)
		}
		if n.Status == "" {
			n.Status = StatusPending
		}
		g.nodes[n.ID] = &n
		g.order = append(g.order, n.ID)
	}

	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", n.ID, dep)
			}
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle runs a depth-first search over the dependency edges.
func (g *Graph) detectCycle() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("task graph contains a cycle through %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, dep := range g.nodes[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Start transitions a pending node to in_progress. All of its
// dependencies must already be completed.
func (g *Graph) Start(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if n.Status != StatusPending {
		return fmt.Errorf("task %s is %s, cannot start", id, n.Status)
	}
	for _, dep := range n.DependsOn {
		if g.nodes[dep].Status != StatusCompleted {
			return fmt.Errorf("task %s dependency %s is not completed", id, dep)
		}
	}
	n.Status = StatusInProgress
	return nil
}

// Complete transitions an in_progress node to completed.
func (g *Graph) Complete(id string) error {
	return g.finish(id, StatusCompleted)
}

// Fail transitions an in_progress node to failed.
func (g *Graph) Fail(id string) error {
	return g.finish(id, StatusFailed)
}

func (g *Graph) finish(id string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if n.Status != StatusInProgress {
		return fmt.Errorf("task %s is %s, cannot finish", id, n.Status)
	}
	n.Status = status
	return nil
}

// InProgress returns the ids of nodes currently in_progress.
func (g *Graph) InProgress() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if g.nodes[id].Status == StatusInProgress {
			ids = append(ids, id)
		}
	}
	return ids
}

// Next returns the first pending node whose dependencies are all
// completed, or an empty string when no node is ready.
func (g *Graph) Next() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status != StatusPending {
			continue
		}
		ready := true
		for _, dep := range n.DependsOn {
			if g.nodes[dep].Status != StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			return id
		}
	}
	return ""
}

// Counts returns the number of completed nodes and the number not yet
// completed (pending, in_progress, or failed).
func (g *Graph) Counts() (completed, remaining int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		if n.Status == StatusCompleted {
			completed++
		} else {
			remaining++
		}
	}
	return completed, remaining
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns a deep copy of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		n := *g.nodes[id]
		n.DependsOn = append([]string(nil), n.DependsOn...)
		out = append(out, n)
	}
	return out
}

// Get returns a copy of one node.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.DependsOn = append([]string(nil), n.DependsOn...)
	return cp, true
}

// Restore overwrites node statuses from a captured copy of the graph.
// Nodes present in the capture but unknown to the graph are rejected so a
// resume never half-applies a snapshot.
func (g *Graph) Restore(nodes []Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range nodes {
		if _, ok := g.nodes[n.ID]; !ok {
			return fmt.Errorf("snapshot references unknown task %s", n.ID)
		}
	}
	for _, n := range nodes {
		g.nodes[n.ID].Status = n.Status
	}
	return nil
}
