// Package engine ties the planner, scheduler, cache, rate limiter, and
// safety gate together into submittable runs.
//
// One Engine serves the whole daemon. The result cache and both rate-limit
// layers are shared across runs; each run gets its own scheduler, dispatch
// loop, budget ledger, and gate binding.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/cache"
	"github.com/chimeralabs/chimerad/internal/config"
	"github.com/chimeralabs/chimerad/internal/executor"
	"github.com/chimeralabs/chimerad/internal/gate"
	"github.com/chimeralabs/chimerad/internal/logging"
	"github.com/chimeralabs/chimerad/internal/planner"
	"github.com/chimeralabs/chimerad/internal/ratelimit"
	"github.com/chimeralabs/chimerad/internal/scheduler"
	"github.com/chimeralabs/chimerad/internal/task"
)

// ErrRunNotFound indicates an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one submitted objective being driven to completion.
type Run struct {
	ID        string
	Principal string
	CreatedAt time.Time

	sched      *scheduler.Scheduler
	dispatcher *scheduler.Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}

	mu  sync.Mutex
	err error
}

// Done reports whether the run's dispatch loop has exited.
func (r *Run) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the dispatch loop's exit error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run finishes or the context is cancelled.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.Err()
	}
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID           string              `json:"run_id"`
	Principal       string              `json:"principal"`
	CreatedAt       time.Time           `json:"created_at"`
	Done            bool                `json:"done"`
	BudgetRemaining float64             `json:"budget_remaining"`
	Counts          map[task.Status]int `json:"counts"`
	Tasks           map[string]TaskView `json:"tasks"`
}

// TaskView is the externally visible state of one task.
type TaskView struct {
	ID            string       `json:"id"`
	Kind          task.Kind    `json:"kind"`
	Status        task.Status  `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Result        *task.Result `json:"result,omitempty"`
}

// Engine accepts objectives and drives their runs.
type Engine struct {
	cfg      *config.Config
	planner  *planner.Planner
	registry *executor.Registry
	cache    *cache.Cache
	limiter  *ratelimit.Dual
	reviews  *gate.Reviews
	pub      gate.Publisher
	logger   *logging.Logger

	schedMetrics *scheduler.Metrics
	gateMetrics  *gate.Metrics

	mu   sync.Mutex
	runs map[string]*Run
}

// Options bundles the collaborators an Engine needs. Metrics and Publisher
// may be nil.
type Options struct {
	Config    *config.Config
	Registry  *executor.Registry
	Cache     *cache.Cache
	Reviews   *gate.Reviews
	Publisher gate.Publisher
	Logger    *logging.Logger

	SchedulerMetrics *scheduler.Metrics
	GateMetrics      *gate.Metrics
	LimiterMetrics   *ratelimit.Metrics
}

// New creates an Engine. The dual rate limiter is assembled here from the
// internal quota and the per-kind external quotas in config.
func New(opts Options) *Engine {
	external := make(map[task.Kind]ratelimit.LimitConfig)
	for name, policy := range opts.Config.Kinds {
		if policy.ExternalRateLimit.Limit > 0 {
			external[task.Kind(name)] = ratelimit.LimitConfig{
				Window: policy.ExternalRateLimit.Window.Duration(),
				Limit:  policy.ExternalRateLimit.Limit,
			}
		}
	}

	return &Engine{
		cfg:      opts.Config,
		planner:  planner.New(opts.Registry, opts.Config.Kinds),
		registry: opts.Registry,
		cache:    opts.Cache,
		limiter: ratelimit.NewDual(ratelimit.LimitConfig{
			Window: opts.Config.RateLimit.Internal.Window.Duration(),
			Limit:  opts.Config.RateLimit.Internal.Limit,
		}, external, opts.LimiterMetrics),
		reviews:      opts.Reviews,
		pub:          opts.Publisher,
		logger:       opts.Logger,
		schedMetrics: opts.SchedulerMetrics,
		gateMetrics:  opts.GateMetrics,
		runs:         make(map[string]*Run),
	}
}

// Submit plans an objective and starts its run. Planning errors surface
// immediately; a successfully planned run executes in the background.
func (e *Engine) Submit(ctx context.Context, objective planner.Objective) (*Run, error) {
	// The caller's context governs planning only; the run itself detaches.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := e.planner.BuildGraph(objective)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(plan.Graph, e.cfg.Scheduler.PoolSize)

	g := gate.New(e.cfg.Kinds, e.reviews, e.pub, e.logger.Named("gate"), e.gateMetrics)

	dispatcher := scheduler.NewDispatcher(scheduler.DispatcherOptions{
		Scheduler: sched,
		Registry:  e.registry,
		Limiter:   e.limiter,
		Cache:     e.cache,
		Policies:  e.cfg.Kinds,
		Retry: &executor.RetryPolicy{
			CallTimeout: e.cfg.Scheduler.CallTimeout.Duration(),
		},
		Sink:         g,
		Logger:       e.logger.Named("dispatch"),
		Metrics:      e.schedMetrics,
		Budget:       plan.Budget,
		PollInterval: e.cfg.Scheduler.PollInterval.Duration(),
	})
	g.BindBudget(dispatcher.BudgetRemaining)

	// The run outlives the submitting request.
	runCtx, cancel := context.WithCancel(logging.WithRunID(context.Background(), plan.RunID))
	run := &Run{
		ID:         plan.RunID,
		Principal:  plan.Principal,
		CreatedAt:  time.Now(),
		sched:      sched,
		dispatcher: dispatcher,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[run.ID] = run
	e.mu.Unlock()

	e.logger.Info(runCtx, "run started",
		zap.String("principal", plan.Principal),
		zap.Int("tasks", plan.Graph.Len()),
		zap.Float64("budget", plan.Budget))

	go func() {
		err := dispatcher.Run(runCtx)
		run.mu.Lock()
		run.err = err
		run.mu.Unlock()
		close(run.done)
		cancel()

		e.logger.Info(runCtx, "run finished",
			zap.Any("counts", sched.Counts()),
			zap.Float64("budget_remaining", dispatcher.BudgetRemaining()),
			zap.Error(err))
	}()

	return run, nil
}

// Status returns a snapshot of one run.
func (e *Engine) Status(runID string) (Status, error) {
	run, err := e.run(runID)
	if err != nil {
		return Status{}, err
	}

	snap := run.sched.Snapshot()
	tasks := make(map[string]TaskView, len(snap))
	for id, st := range snap {
		tasks[id] = TaskView{
			ID:            id,
			Kind:          st.Task.Kind,
			Status:        st.Status,
			FailureReason: st.FailureReason,
			Result:        st.Result,
		}
	}

	return Status{
		RunID:           run.ID,
		Principal:       run.Principal,
		CreatedAt:       run.CreatedAt,
		Done:            run.Done(),
		BudgetRemaining: run.dispatcher.BudgetRemaining(),
		Counts:          run.sched.Counts(),
		Tasks:           tasks,
	}, nil
}

// FindTask locates a task across all runs.
func (e *Engine) FindTask(taskID string) (string, TaskView, bool) {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		if st, ok := r.sched.State(taskID); ok {
			return r.ID, TaskView{
				ID:            taskID,
				Kind:          st.Task.Kind,
				Status:        st.Status,
				FailureReason: st.FailureReason,
				Result:        st.Result,
			}, true
		}
	}
	return "", TaskView{}, false
}

// Cancel stops a run; its non-terminal tasks are abandoned.
func (e *Engine) Cancel(runID string) error {
	run, err := e.run(runID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Runs returns snapshots of every run, unordered.
func (e *Engine) Runs() []Status {
	e.mu.Lock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if st, err := e.Status(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Reviews returns the shared review store.
func (e *Engine) Reviews() *gate.Reviews {
	return e.reviews
}

// EnableKind re-enables a kind on every run after a systemic failure was
// fixed.
func (e *Engine) EnableKind(kind task.Kind) error {
	if _, ok := e.cfg.Kinds[string(kind)]; !ok {
		return fmt.Errorf("%w: %q", executor.ErrUnknownKind, kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, run := range e.runs {
		run.dispatcher.EnableKind(kind)
	}
	return nil
}

// DisabledKinds returns the union of disabled kinds across runs.
func (e *Engine) DisabledKinds() []task.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[task.Kind]struct{})
	var out []task.Kind
	for _, run := range e.runs {
		for _, k := range run.dispatcher.DisabledKinds() {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// Shutdown cancels every run and waits for their loops to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
		}
	}
	return nil
}

func (e *Engine) run(id string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, nil
}
