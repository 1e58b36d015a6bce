package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/cache"
	"github.com/chimeralabs/chimerad/internal/config"
	"github.com/chimeralabs/chimerad/internal/executor"
	"github.com/chimeralabs/chimerad/internal/logging"
	"github.com/chimeralabs/chimerad/internal/ratelimit"
	"github.com/chimeralabs/chimerad/internal/task"
)

// ResultSink receives every executor-produced terminal result. The escalation
// gate implements it; Process reports whether the result was auto-approved,
// which gates cache admission.
type ResultSink interface {
	Process(ctx context.Context, t *task.Task, res task.Result) (autoApproved bool)
}

// DispatcherOptions bundles the collaborators a Dispatcher needs.
type DispatcherOptions struct {
	Scheduler *Scheduler
	Registry  *executor.Registry
	Limiter   *ratelimit.Dual
	Cache     *cache.Cache
	Policies  map[string]config.KindPolicy
	Retry     *executor.RetryPolicy
	Sink      ResultSink
	Logger    *logging.Logger
	Metrics   *Metrics

	// Budget is the run's total spend ceiling.
	Budget float64

	// PollInterval paces the loop when nothing is dispatchable.
	PollInterval time.Duration

	// DeferTiers are the escalating holds applied when the permit limiter
	// denies a task. Once a task has been deferred more times than there are
	// tiers, it fails with the rate-limit error surfaced.
	DeferTiers []time.Duration
}

// completion carries an invocation outcome back into the dispatch loop.
type completion struct {
	t      *task.Task
	result task.Result
	runErr error
}

// Dispatcher runs the dispatch loop for one plan.
//
// It is the scheduler's only writer. Executor invocations run in their own
// goroutines and rejoin through the completion channel; everything else
// (cache probes, permit checks, budget accounting, gate hand-off) happens on
// the loop goroutine.
type Dispatcher struct {
	sched    *Scheduler
	registry *executor.Registry
	limiter  *ratelimit.Dual
	cache    *cache.Cache
	policies map[string]config.KindPolicy
	retry    *executor.RetryPolicy
	sink     ResultSink
	logger   *logging.Logger
	metrics  *Metrics

	pollInterval time.Duration
	deferTiers   []time.Duration

	budgetMu        sync.Mutex
	budgetRemaining float64

	kindsMu       sync.Mutex
	disabledKinds map[task.Kind]struct{}

	completions chan completion
	wg          sync.WaitGroup

	now  func() time.Time
	rand func() float64
}

// NewDispatcher creates a Dispatcher. Zero option fields fall back to
// defaults where one exists.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.DeferTiers == nil {
		opts.DeferTiers = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}
	}
	if opts.Retry == nil {
		opts.Retry = executor.DefaultRetryPolicy()
	}

	// One buffered slot per pool slot: at most poolSize invocations are in
	// flight, so no sender can block on a full channel while the loop is in
	// wg.Wait during shutdown.
	capacity := opts.Scheduler.PoolSize()
	if capacity < 1 {
		capacity = 1
	}

	return &Dispatcher{
		sched:           opts.Scheduler,
		registry:        opts.Registry,
		limiter:         opts.Limiter,
		cache:           opts.Cache,
		policies:        opts.Policies,
		retry:           opts.Retry,
		sink:            opts.Sink,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		pollInterval:    opts.PollInterval,
		deferTiers:      opts.DeferTiers,
		budgetRemaining: opts.Budget,
		disabledKinds:   make(map[task.Kind]struct{}),
		completions:     make(chan completion, capacity),
		now:             time.Now,
		rand:            rand.Float64,
	}
}

// Run drives the plan to completion. It returns nil when every task reached
// a terminal state, or the context error after cancelling all remaining
// work.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		for {
			t, ok := d.sched.Next()
			if !ok {
				break
			}
			d.dispatch(ctx, t)
		}

		if d.sched.Done() {
			d.wg.Wait()
			d.drain(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			d.sched.CancelAll("run cancelled: " + ctx.Err().Error())
			d.wg.Wait()
			d.drain(ctx)
			return ctx.Err()
		case c := <-d.completions:
			d.handle(ctx, c)
		case <-ticker.C:
		}
	}
}

// drain applies completions that raced with shutdown so the final snapshot
// retains their results.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case c := <-d.completions:
			d.handle(ctx, c)
		default:
			return
		}
	}
}

// dispatch decides the fate of one ready task: serve from cache, defer on
// permit denial, or launch an executor invocation.
func (d *Dispatcher) dispatch(ctx context.Context, t *task.Task) {
	taskCtx := logging.WithTaskID(logging.WithPrincipal(ctx, t.Principal), t.ID)

	if d.kindDisabled(t.Kind) {
		// Held, not failed: systemic outages clear by operator action and the
		// task resumes from where it was.
		d.sched.Defer(t.ID, d.now().Add(d.pollInterval), false)
		return
	}

	policy, ok := d.policies[string(t.Kind)]
	if !ok {
		d.completeFailed(taskCtx, t, task.Error{
			Code:    task.CodeInvalidParameters,
			Message: fmt.Sprintf("no policy configured for kind %q", t.Kind),
		})
		return
	}

	if policy.MinCost > d.BudgetRemaining() {
		d.completeFailed(taskCtx, t, task.Error{
			Code:    task.CodeBudgetExceeded,
			Message: fmt.Sprintf("minimum cost %.4f exceeds remaining budget %.4f", policy.MinCost, d.BudgetRemaining()),
		})
		return
	}

	fingerprint := t.Fingerprint()
	if policy.CacheTTL.Duration() > 0 {
		if res, hit := d.cache.Get(fingerprint); hit {
			// No invocation, no permit consumed, no budget charge.
			res.TaskID = t.ID
			d.logger.Info(taskCtx, "served from result cache")
			d.recordCompleted(t.Kind, task.StatusSucceeded)
			d.sched.Complete(t.ID, res)
			return
		}
	}

	if granted, layer := d.limiter.Acquire(t.Principal, t.Kind); !granted {
		d.deferDenied(taskCtx, t, layer)
		return
	}

	exec, err := d.registry.Resolve(t.Kind)
	if err != nil {
		d.completeFailed(taskCtx, t, task.Error{
			Code:    task.CodeInvalidParameters,
			Message: err.Error(),
		})
		return
	}

	inv := executor.Invocation{
		TaskID:          t.ID,
		Kind:            t.Kind,
		Parameters:      t.Parameters,
		Principal:       t.Principal,
		BudgetRemaining: d.BudgetRemaining(),
	}

	d.recordDispatched(t.Kind)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, runErr := d.retry.Run(taskCtx, exec, inv)
		d.completions <- completion{t: t, result: res, runErr: runErr}
	}()
}

// deferDenied re-queues a permit-denied task through the staged defer tiers,
// failing it once the tiers are exhausted. The denial frees the pool slot;
// other principals' tasks keep flowing.
func (d *Dispatcher) deferDenied(ctx context.Context, t *task.Task, layer string) {
	attempts := d.sched.QuotaDeferrals(t.ID) + 1
	if attempts > len(d.deferTiers) {
		d.completeFailed(ctx, t, task.Error{
			Code:    task.CodeRateLimited,
			Message: fmt.Sprintf("%s rate limit still exceeded after %d deferrals", layer, attempts-1),
		})
		return
	}

	wait := d.deferWait(attempts - 1)
	d.sched.Defer(t.ID, d.now().Add(wait), true)
	d.recordDeferral(layer)
	d.logger.Warn(ctx, "permit denied, task deferred",
		zap.String("layer", layer),
		zap.Int("attempt", attempts),
		zap.Duration("wait", wait))
}

// deferWait returns the jittered hold for a tier.
func (d *Dispatcher) deferWait(tier int) time.Duration {
	if tier >= len(d.deferTiers) {
		tier = len(d.deferTiers) - 1
	}
	base := d.deferTiers[tier]
	return base + time.Duration(d.rand()*0.5*float64(base))
}

// handle folds one invocation outcome back into scheduler state.
func (d *Dispatcher) handle(ctx context.Context, c completion) {
	t := c.t
	res := c.result
	taskCtx := logging.WithTaskID(logging.WithPrincipal(ctx, t.Principal), t.ID)

	if c.runErr != nil {
		// Context cancelled mid-retry; the result still carries the last
		// attempt for the snapshot.
		d.logger.Warn(taskCtx, "invocation interrupted", zap.Error(c.runErr))
	}

	if res.Status == task.ResultError {
		boundaryErr, _ := res.FirstError()
		if task.Classify(boundaryErr) == task.ClassSystemic {
			// The whole kind is broken, not this task. Park the task and stop
			// dispatching the kind until an operator re-enables it.
			d.DisableKind(t.Kind)
			d.sched.Defer(t.ID, d.now().Add(d.pollInterval), false)
			d.logger.Error(taskCtx, "systemic executor failure, kind disabled",
				zap.String("kind", string(t.Kind)),
				zap.String("code", boundaryErr.Code),
				zap.String("message", boundaryErr.Message))
			return
		}

		d.recordCompleted(t.Kind, task.StatusFailed)
		d.sched.Complete(t.ID, res)
		if d.sink != nil {
			d.sink.Process(taskCtx, t, res)
		}
		d.logger.Warn(taskCtx, "task failed",
			zap.String("code", boundaryErr.Code),
			zap.Int("attempts", res.Attempt))
		return
	}

	d.chargeBudget(res.CostIncurred)

	approved := false
	if d.sink != nil {
		approved = d.sink.Process(taskCtx, t, res)
	}

	policy := d.policies[string(t.Kind)]
	if approved && res.Status == task.ResultSuccess && policy.CacheTTL.Duration() > 0 {
		d.cache.Put(t.Fingerprint(), res, policy.CacheTTL.Duration())
	}

	d.recordCompleted(t.Kind, task.StatusSucceeded)
	d.sched.Complete(t.ID, res)
	d.logger.Info(taskCtx, "task completed",
		zap.String("status", string(res.Status)),
		zap.Float64("cost", res.CostIncurred),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Bool("auto_approved", approved))
}

// completeFailed fails a task with a single boundary error and routes the
// result through the sink.
func (d *Dispatcher) completeFailed(ctx context.Context, t *task.Task, boundaryErr task.Error) {
	res := task.Result{
		TaskID: t.ID,
		Status: task.ResultError,
		Errors: []task.Error{boundaryErr},
	}
	d.recordCompleted(t.Kind, task.StatusFailed)
	d.sched.Complete(t.ID, res)
	if d.sink != nil {
		d.sink.Process(ctx, t, res)
	}
	d.logger.Warn(ctx, "task failed before invocation",
		zap.String("code", boundaryErr.Code),
		zap.String("message", boundaryErr.Message))
}

// chargeBudget deducts incurred cost from the run budget.
func (d *Dispatcher) chargeBudget(cost float64) {
	if cost <= 0 {
		return
	}
	d.budgetMu.Lock()
	d.budgetRemaining -= cost
	d.budgetMu.Unlock()
}

// BudgetRemaining returns the run's remaining spend.
func (d *Dispatcher) BudgetRemaining() float64 {
	d.budgetMu.Lock()
	defer d.budgetMu.Unlock()
	return d.budgetRemaining
}

// DisableKind stops dispatching tasks of the given kind.
func (d *Dispatcher) DisableKind(kind task.Kind) {
	d.kindsMu.Lock()
	defer d.kindsMu.Unlock()
	d.disabledKinds[kind] = struct{}{}
	if d.metrics != nil {
		d.metrics.SetKindDisabled(string(kind), true)
	}
}

// EnableKind resumes dispatching tasks of the given kind. Parked tasks pick
// up on the next loop pass.
func (d *Dispatcher) EnableKind(kind task.Kind) {
	d.kindsMu.Lock()
	defer d.kindsMu.Unlock()
	delete(d.disabledKinds, kind)
	if d.metrics != nil {
		d.metrics.SetKindDisabled(string(kind), false)
	}
}

// DisabledKinds returns the currently disabled kinds.
func (d *Dispatcher) DisabledKinds() []task.Kind {
	d.kindsMu.Lock()
	defer d.kindsMu.Unlock()
	out := make([]task.Kind, 0, len(d.disabledKinds))
	for k := range d.disabledKinds {
		out = append(out, k)
	}
	return out
}

func (d *Dispatcher) kindDisabled(kind task.Kind) bool {
	d.kindsMu.Lock()
	defer d.kindsMu.Unlock()
	_, ok := d.disabledKinds[kind]
	return ok
}

func (d *Dispatcher) recordDispatched(kind task.Kind) {
	if d.metrics != nil {
		d.metrics.RecordDispatched(string(kind))
	}
}

func (d *Dispatcher) recordCompleted(kind task.Kind, status task.Status) {
	if d.metrics != nil {
		d.metrics.RecordCompleted(string(kind), string(status))
	}
}

func (d *Dispatcher) recordDeferral(layer string) {
	if d.metrics != nil {
		d.metrics.RecordDeferral(layer)
	}
}
