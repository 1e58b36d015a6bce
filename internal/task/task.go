// Package task defines the unit-of-work data model shared by the planner,
// scheduler, and escalation gate.
package task

import (
	"fmt"
	"time"
)

// Kind identifies which executor variant handles a task.
//
// Kinds form a closed enumeration resolved against the executor registry at
// planning time; a task referencing an unregistered kind is rejected before
// dispatch.
type Kind string

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task is waiting on unfinished dependencies.
	StatusPending Status = "pending"

	// StatusReady means all dependencies succeeded and the task is dispatchable.
	StatusReady Status = "ready"

	// StatusRunning means an executor invocation is in flight.
	StatusRunning Status = "running"

	// StatusSucceeded is terminal: the task produced an approved-usable result.
	StatusSucceeded Status = "succeeded"

	// StatusFailed is terminal: the task exhausted its retry budget or hit a
	// non-recoverable error.
	StatusFailed Status = "failed"

	// StatusAbandoned is terminal: the task was cancelled, missed its deadline,
	// or a transitive dependency failed.
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status is immutable.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAbandoned
}

// Task is a single unit of work in a task graph.
type Task struct {
	// ID uniquely identifies the task. It doubles as the idempotency key and
	// participates in cache fingerprinting.
	ID string `json:"id"`

	// Kind selects the executor variant.
	Kind Kind `json:"kind"`

	// Parameters is the opaque structured payload passed to the executor.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Dependencies lists task IDs that must reach succeeded first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Principal is the owning agent/tenant for rate-limit and budget accounting.
	Principal string `json:"principal"`

	// Priority breaks ties between ready tasks; higher dispatches first.
	Priority int `json:"priority,omitempty"`

	// Deadline, when non-zero, abandons the task if it has not started by then.
	Deadline time.Time `json:"deadline,omitempty"`
}

// Validate checks the fields a task needs before it can enter a graph.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Kind == "" {
		return fmt.Errorf("task %s: kind is required", t.ID)
	}
	if t.Principal == "" {
		return fmt.Errorf("task %s: principal is required", t.ID)
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
	}
	return nil
}

// HasDeadline reports whether a deadline is set.
func (t *Task) HasDeadline() bool {
	return !t.Deadline.IsZero()
}
