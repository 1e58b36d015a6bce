// Package planner decomposes an external objective into the validated task
// graph consumed by the scheduler.
//
// The planner never dispatches: its only side effect is the returned plan.
// Kinds are resolved against the executor registry at plan time so that an
// unregistered kind fails here, not at dispatch.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chimeralabs/chimerad/internal/config"
	"github.com/chimeralabs/chimerad/internal/executor"
	"github.com/chimeralabs/chimerad/internal/graph"
	"github.com/chimeralabs/chimerad/internal/sanitize"
	"github.com/chimeralabs/chimerad/internal/task"
)

// Planning errors.
var (
	// ErrBudgetInfeasible indicates the objective cannot complete within its
	// budget ceiling even at minimum estimated cost.
	ErrBudgetInfeasible = errors.New("budget infeasible")

	// ErrUnsafeParameters indicates a step's parameters failed the defensive
	// screen outright.
	ErrUnsafeParameters = errors.New("unsafe step parameters")
)

// Step is one requested unit of work inside an objective.
type Step struct {
	// ID is optional; a UUID is assigned when empty.
	ID string `json:"id,omitempty"`

	Kind       task.Kind      `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	Deadline   time.Time      `json:"deadline,omitempty"`
}

// Objective is the external input the planner decomposes.
type Objective struct {
	// Principal owns every task in the resulting graph.
	Principal string `json:"principal"`

	// BudgetCeiling caps the total spend across the whole run.
	BudgetCeiling float64 `json:"budget_ceiling"`

	Steps []Step `json:"steps"`
}

// Plan is a validated, dispatchable task graph plus its run accounting.
type Plan struct {
	RunID     string
	Principal string
	Budget    float64
	Graph     *graph.Graph
}

// Planner validates objectives against the executor registry and per-kind
// policy table.
type Planner struct {
	registry *executor.Registry
	policies map[string]config.KindPolicy
}

// New creates a Planner.
func New(registry *executor.Registry, policies map[string]config.KindPolicy) *Planner {
	return &Planner{registry: registry, policies: policies}
}

// BuildGraph validates the objective and assembles its task graph.
//
// Failure modes:
//   - wrapped graph.ErrCycle for cyclic dependencies
//   - wrapped executor.ErrUnknownKind for unregistered kinds
//   - wrapped ErrBudgetInfeasible when the sum of per-kind minimum cost
//     estimates exceeds the budget ceiling
//   - wrapped ErrUnsafeParameters when a step's parameters screen as reject
func (p *Planner) BuildGraph(objective Objective) (*Plan, error) {
	if err := sanitize.ValidatePrincipal(objective.Principal); err != nil {
		return nil, err
	}
	if objective.BudgetCeiling < 0 {
		return nil, fmt.Errorf("budget ceiling cannot be negative: %v", objective.BudgetCeiling)
	}
	if len(objective.Steps) == 0 {
		return nil, fmt.Errorf("objective has no steps")
	}

	tasks := make([]*task.Task, 0, len(objective.Steps))
	minimumCost := 0.0

	for i, step := range objective.Steps {
		if !p.registry.Known(step.Kind) {
			return nil, fmt.Errorf("step %d: %w: %q", i, executor.ErrUnknownKind, step.Kind)
		}

		policy, ok := p.policies[string(step.Kind)]
		if !ok {
			return nil, fmt.Errorf("step %d: %w: no policy for %q", i, executor.ErrUnknownKind, step.Kind)
		}
		minimumCost += policy.MinCost

		if verdict := sanitize.Screen(step.Parameters); verdict == task.SanitizationReject {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind, ErrUnsafeParameters)
		}

		id := step.ID
		if id == "" {
			id = uuid.NewString()
		} else if err := sanitize.ValidateTaskID(id); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		tasks = append(tasks, &task.Task{
			ID:           id,
			Kind:         step.Kind,
			Parameters:   step.Parameters,
			Dependencies: step.DependsOn,
			Principal:    objective.Principal,
			Priority:     step.Priority,
			Deadline:     step.Deadline,
		})
	}

	if minimumCost > objective.BudgetCeiling {
		return nil, fmt.Errorf("%w: minimum estimated cost %.4f exceeds ceiling %.4f",
			ErrBudgetInfeasible, minimumCost, objective.BudgetCeiling)
	}

	g, err := graph.Build(tasks)
	if err != nil {
		return nil, err
	}

	return &Plan{
		RunID:     uuid.NewString(),
		Principal: objective.Principal,
		Budget:    objective.BudgetCeiling,
		Graph:     g,
	}, nil
}
