// Package graph builds and validates the dependency DAG consumed by the
// scheduler.
//
// A Graph is immutable once built and safe for concurrent read access. The
// reverse-edge index is computed once at build time so that readiness
// recomputation on task completion is O(dependents) rather than a rescan of
// the whole graph.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chimeralabs/chimerad/internal/task"
)

// ErrCycle indicates the dependency set is not a DAG.
var ErrCycle = errors.New("dependency cycle")

// Graph is an immutable, validated task DAG.
type Graph struct {
	tasksByID map[string]*task.Task
	order     []string // insertion order of task IDs

	dependents   map[string][]string // reverse edges: id -> tasks that depend on it
	dependencies map[string][]string // forward edges: id -> its dependencies
}

// Build validates the given tasks and assembles a Graph.
//
// Rejected inputs:
//   - empty task set
//   - invalid tasks (missing id/kind/principal, self-dependency)
//   - duplicate task IDs
//   - dependencies referencing unknown task IDs
//   - any cycle, direct or indirect (wrapped ErrCycle)
func Build(tasks []*task.Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks")
	}

	g := &Graph{
		tasksByID:    make(map[string]*task.Task, len(tasks)),
		order:        make([]string, 0, len(tasks)),
		dependents:   make(map[string][]string, len(tasks)),
		dependencies: make(map[string][]string, len(tasks)),
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.tasksByID[t.ID]; exists {
			return nil, fmt.Errorf("duplicate task id: %q", t.ID)
		}
		g.tasksByID[t.ID] = t
		g.order = append(g.order, t.ID)
	}

	for _, t := range tasks {
		seen := make(map[string]struct{}, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if _, ok := g.tasksByID[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, fmt.Errorf("task %q has duplicate dependency %q", t.ID, dep)
			}
			seen[dep] = struct{}{}
			g.dependencies[t.ID] = append(g.dependencies[t.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
		sort.Strings(g.dependencies[t.ID])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// validateAcyclic runs Kahn's algorithm; any node left unprocessed sits on a
// cycle.
func (g *Graph) validateAcyclic() error {
	indeg := make(map[string]int, len(g.tasksByID))
	for id := range g.tasksByID {
		indeg[id] = len(g.dependencies[id])
	}

	queue := make([]string, 0, len(indeg))
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range g.dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(g.tasksByID) {
		var stuck []string
		for id, d := range indeg {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("%w involving tasks %v", ErrCycle, stuck)
	}
	return nil
}

// Task returns a task by ID.
func (g *Graph) Task(id string) (*task.Task, bool) {
	t, ok := g.tasksByID[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *Graph) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasksByID[id])
	}
	return out
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Dependencies returns the direct dependencies of the given task.
func (g *Graph) Dependencies(id string) []string {
	return g.dependencies[id]
}

// Dependents returns the tasks that directly depend on the given task.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// TransitiveDependents returns every task reachable downstream of id, in
// breadth-first order. Used to cascade abandonment when a dependency fails.
func (g *Graph) TransitiveDependents(id string) []string {
	var out []string
	visited := map[string]struct{}{id: {}}
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}
	return out
}

// TopologicalOrder returns a deterministic topological ordering of task IDs.
// The graph is validated on construction, so this never fails.
func (g *Graph) TopologicalOrder() []string {
	indeg := make(map[string]int, len(g.tasksByID))
	for id := range g.tasksByID {
		indeg[id] = len(g.dependencies[id])
	}

	queue := make([]string, 0, len(indeg))
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	out := make([]string, 0, len(g.tasksByID))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, dep := range g.dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return out
}
