package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeralabs/chimerad/internal/task"
)

func mkTask(id string, deps ...string) *task.Task {
	return &task.Task{
		ID:           id,
		Kind:         "trend_fetch",
		Principal:    "agent-1",
		Dependencies: deps,
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)
}

func TestBuild_DuplicateID(t *testing.T) {
	_, err := Build([]*task.Task{mkTask("a"), mkTask("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := Build([]*task.Task{mkTask("a", "ghost")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestBuild_DuplicateDependency(t *testing.T) {
	_, err := Build([]*task.Task{mkTask("a"), mkTask("b", "a", "a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate dependency")
}

func TestBuild_SelfLoop(t *testing.T) {
	_, err := Build([]*task.Task{mkTask("a", "a")})
	assert.Error(t, err)
}

func TestBuild_DirectCycle(t *testing.T) {
	_, err := Build([]*task.Task{mkTask("a", "b"), mkTask("b", "a")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBuild_IndirectCycle(t *testing.T) {
	_, err := Build([]*task.Task{
		mkTask("a", "c"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBuild_ValidDiamond(t *testing.T) {
	g, err := Build([]*task.Task{
		mkTask("fetch"),
		mkTask("gen-a", "fetch"),
		mkTask("gen-b", "fetch"),
		mkTask("publish", "gen-a", "gen-b"),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.ElementsMatch(t, []string{"gen-a", "gen-b"}, g.Dependents("fetch"))
	assert.Equal(t, []string{"gen-a", "gen-b"}, g.Dependencies("publish"))

	_, ok := g.Task("fetch")
	assert.True(t, ok)
	_, ok = g.Task("missing")
	assert.False(t, ok)
}

func TestTransitiveDependents(t *testing.T) {
	g, err := Build([]*task.Task{
		mkTask("root"),
		mkTask("mid", "root"),
		mkTask("leaf-a", "mid"),
		mkTask("leaf-b", "mid"),
		mkTask("island"),
	})
	require.NoError(t, err)

	deps := g.TransitiveDependents("root")
	assert.ElementsMatch(t, []string{"mid", "leaf-a", "leaf-b"}, deps)
	assert.NotContains(t, deps, "island")

	assert.Empty(t, g.TransitiveDependents("leaf-a"))
}

func TestTopologicalOrder(t *testing.T) {
	g, err := Build([]*task.Task{
		mkTask("publish", "gen"),
		mkTask("gen", "fetch"),
		mkTask("fetch"),
	})
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["fetch"], pos["gen"])
	assert.Less(t, pos["gen"], pos["publish"])
}
