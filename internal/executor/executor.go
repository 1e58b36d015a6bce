// Package executor defines the contract a unit of work implements and the
// retry glue the dispatcher wraps around every invocation.
//
// Executors are out-of-core workers (skills): the orchestrator only knows
// this boundary. Implementations must be safe for concurrent invocation on
// different tasks and idempotent per (task id, parameters) pair.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chimeralabs/chimerad/internal/task"
)

// ErrUnknownKind indicates no executor is registered for a task kind.
var ErrUnknownKind = errors.New("unknown executor kind")

// Invocation is the request crossing the executor boundary.
type Invocation struct {
	TaskID          string         `json:"task_id"`
	Kind            task.Kind      `json:"kind"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Principal       string         `json:"principal"`
	BudgetRemaining float64        `json:"budget_remaining"`
}

// Executor is implemented by every executor variant.
//
// Execute returns a structured Result for outcomes the worker could observe
// (including executor-reported errors), and a non-nil error only for
// failures of the invocation machinery itself (transport breakdown,
// context cancellation). The retry layer translates the latter into
// boundary error codes.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (task.Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, inv Invocation) (task.Result, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, inv Invocation) (task.Result, error) {
	return f(ctx, inv)
}

// Registry resolves task kinds to executor implementations. The kind set is
// closed once the daemon is wired: planners consult it to reject unknown
// kinds before any task is dispatched.
type Registry struct {
	mu        sync.RWMutex
	executors map[task.Kind]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[task.Kind]Executor)}
}

// Register binds an executor to a kind. Re-registering a kind replaces the
// previous binding.
func (r *Registry) Register(kind task.Kind, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = exec
}

// Resolve returns the executor for a kind.
func (r *Registry) Resolve(kind task.Kind) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return exec, nil
}

// Known reports whether a kind is registered.
func (r *Registry) Known(kind task.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []task.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]task.Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
