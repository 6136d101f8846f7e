package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveTaskGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Node{
		{ID: "t1", Name: "scaffold"},
		{ID: "t2", Name: "model", DependsOn: []string{"t1"}},
		{ID: "t3", Name: "store", DependsOn: []string{"t2"}},
		{ID: "t4", Name: "api", DependsOn: []string{"t3"}},
		{ID: "t5", Name: "docs", DependsOn: []string{"t4"}},
	})
	require.NoError(t, err)
	return g
}

func TestNewGraph_RejectsCycle(t *testing.T) {
	_, err := NewGraph([]Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestNewGraph_RejectsUnknownDependency(t *testing.T) {
	_, err := NewGraph([]Node{{ID: "a", DependsOn: []string{"ghost"}}})
	require.Error(t, err)
}

func TestNewGraph_RejectsDuplicateID(t *testing.T) {
	_, err := NewGraph([]Node{{ID: "a"}, {ID: "a"}})
	require.Error(t, err)
}

func TestGraph_StartRequiresCompletedDeps(t *testing.T) {
	g := fiveTaskGraph(t)

	require.Error(t, g.Start("t2"), "t1 not completed yet")

	require.NoError(t, g.Start("t1"))
	require.NoError(t, g.Complete("t1"))
	require.NoError(t, g.Start("t2"))
}

func TestGraph_FinishRequiresInProgress(t *testing.T) {
	g := fiveTaskGraph(t)

	require.Error(t, g.Complete("t1"))
	require.NoError(t, g.Start("t1"))
	require.NoError(t, g.Fail("t1"))

	n, ok := g.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, n.Status)
}

func TestGraph_NextFollowsDependencyOrder(t *testing.T) {
	g := fiveTaskGraph(t)

	assert.Equal(t, "t1", g.Next())
	require.NoError(t, g.Start("t1"))
	assert.Equal(t, "", g.Next(), "t2 blocked while t1 runs")
	require.NoError(t, g.Complete("t1"))
	assert.Equal(t, "t2", g.Next())
}

func TestGraph_Counts(t *testing.T) {
	g := fiveTaskGraph(t)

	completed, remaining := g.Counts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 5, remaining)

	require.NoError(t, g.Start("t1"))
	require.NoError(t, g.Complete("t1"))
	require.NoError(t, g.Start("t2"))
	require.NoError(t, g.Complete("t2"))

	completed, remaining = g.Counts()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 3, remaining)
}

func TestGraph_RestoreRoundTrip(t *testing.T) {
	g := fiveTaskGraph(t)
	require.NoError(t, g.Start("t1"))
	require.NoError(t, g.Complete("t1"))

	captured := g.Nodes()

	fresh := fiveTaskGraph(t)
	require.NoError(t, fresh.Restore(captured))

	completed, remaining := fresh.Counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 4, remaining)
	assert.Equal(t, "t2", fresh.Next())
}

func TestGraph_RestoreRejectsUnknownTask(t *testing.T) {
	g := fiveTaskGraph(t)
	err := g.Restore([]Node{{ID: "ghost", Status: StatusCompleted}})
	require.Error(t, err)

	// Nothing was applied.
	completed, _ := g.Counts()
	assert.Equal(t, 0, completed)
}

func TestGraph_NodesReturnsCopy(t *testing.T) {
	g := fiveTaskGraph(t)
	nodes := g.Nodes()
	nodes[0].Status = StatusCompleted

	n, _ := g.Get("t1")
	assert.Equal(t, StatusPending, n.Status)
}
