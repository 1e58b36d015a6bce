// Package scheduler holds the task queue and the dispatch loop that drives a
// bounded pool of concurrent executor invocations.
//
// The Scheduler exclusively owns task lifecycle transitions. All mutations
// funnel through a single dispatch loop; executor invocations run in
// parallel goroutines and rejoin via a completion channel, never touching
// task state directly.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/chimeralabs/chimerad/internal/graph"
	"github.com/chimeralabs/chimerad/internal/task"
)

// TaskState is the scheduler's view of one task.
type TaskState struct {
	Task   *task.Task
	Status task.Status

	// Result is the last attempt's result; earlier attempts are dropped.
	Result *task.Result

	// FailureReason preserves the triggering ancestor's failure for abandoned
	// tasks, so a cascade does not degrade into "dependency failed".
	FailureReason string

	// notBefore holds back quota-deferred tasks without losing readiness.
	notBefore time.Time

	// quotaDeferrals counts how often the task was bounced by the limiter.
	quotaDeferrals int

	// seq is the insertion order used as the final dispatch tie-break.
	seq int
}

// Scheduler tracks the dependency graph and the ready set.
//
// It is safe for concurrent use; the dispatch loop is the only writer in
// practice, but status endpoints read snapshots concurrently.
type Scheduler struct {
	mu sync.Mutex

	graph  *graph.Graph
	states map[string]*TaskState

	// remainingDeps counts unfinished dependencies per task; a task becomes
	// ready when it drops to zero.
	remainingDeps map[string]int

	ready []string

	poolSize int
	running  int

	now func() time.Time
}

// New creates a Scheduler over a validated graph with the given concurrent
// pool size.
func New(g *graph.Graph, poolSize int) *Scheduler {
	s := &Scheduler{
		graph:         g,
		states:        make(map[string]*TaskState, g.Len()),
		remainingDeps: make(map[string]int, g.Len()),
		poolSize:      poolSize,
		now:           time.Now,
	}

	for i, t := range g.Tasks() {
		s.states[t.ID] = &TaskState{Task: t, Status: task.StatusPending, seq: i}
		s.remainingDeps[t.ID] = len(g.Dependencies(t.ID))
	}
	for id, n := range s.remainingDeps {
		if n == 0 {
			s.markReady(id)
		}
	}
	return s
}

// markReady transitions a pending task to ready. Caller holds the lock.
func (s *Scheduler) markReady(id string) {
	st := s.states[id]
	if st.Status != task.StatusPending {
		return
	}
	st.Status = task.StatusReady
	s.ready = append(s.ready, id)
}

// Next returns the highest-priority dispatchable task and moves it to
// running, or (nil, false) when the pool is saturated or nothing is ready.
//
// Ordering: priority desc, then earliest deadline (no deadline sorts last),
// then insertion order. Ready tasks whose deadline has already passed are
// abandoned, never started; quota-deferred tasks are skipped until their
// hold expires.
func (s *Scheduler) Next() (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.poolSize {
		return nil, false
	}

	now := s.now()
	s.abandonExpiredLocked(now)

	// Compact entries that left ready state (failed or abandoned while
	// queued) as a side effect of the scan.
	kept := s.ready[:0]
	bestIdx := -1
	var best *TaskState
	for _, id := range s.ready {
		st := s.states[id]
		if st.Status != task.StatusReady {
			continue
		}
		kept = append(kept, id)
		if !st.notBefore.IsZero() && now.Before(st.notBefore) {
			continue
		}
		if best == nil || dispatchBefore(st, best) {
			best, bestIdx = st, len(kept)-1
		}
	}
	s.ready = kept
	if best == nil {
		return nil, false
	}

	s.ready = append(s.ready[:bestIdx], s.ready[bestIdx+1:]...)
	best.Status = task.StatusRunning
	s.running++
	return best.Task, true
}

// dispatchBefore reports whether a should dispatch before b.
func dispatchBefore(a, b *TaskState) bool {
	if a.Task.Priority != b.Task.Priority {
		return a.Task.Priority > b.Task.Priority
	}
	aDeadline, bDeadline := a.Task.HasDeadline(), b.Task.HasDeadline()
	switch {
	case aDeadline && bDeadline:
		if !a.Task.Deadline.Equal(b.Task.Deadline) {
			return a.Task.Deadline.Before(b.Task.Deadline)
		}
	case aDeadline != bDeadline:
		return aDeadline
	}
	return a.seq < b.seq
}

// abandonExpiredLocked abandons ready tasks whose deadline passed before
// they could start. Caller holds the lock.
func (s *Scheduler) abandonExpiredLocked(now time.Time) {
	kept := s.ready[:0]
	for _, id := range s.ready {
		st := s.states[id]
		if st.Status == task.StatusReady && st.Task.HasDeadline() && !now.Before(st.Task.Deadline) {
			s.abandonLocked(id, fmt.Sprintf("deadline %s passed before task started", st.Task.Deadline.Format(time.RFC3339)))
			continue
		}
		kept = append(kept, id)
	}
	s.ready = kept
}

// Complete records the final result for a running task and recomputes
// downstream readiness.
//
// A result with status error marks the task failed and cascades abandonment
// to every transitive dependent; anything else marks it succeeded. Completions
// for already-terminal tasks (e.g. a cancelled run's stragglers) keep the
// result for inspection but do not change state.
func (s *Scheduler) Complete(id string, result task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return
	}

	if st.Status.Terminal() {
		// Not rolled back, not re-transitioned.
		st.Result = &result
		return
	}
	if st.Status == task.StatusRunning {
		s.running--
	}
	st.Result = &result

	if result.Status == task.ResultError {
		st.Status = task.StatusFailed
		reason := fmt.Sprintf("task %s failed", id)
		if e, ok := result.FirstError(); ok {
			reason = fmt.Sprintf("task %s failed: %s", id, e.Error())
		}
		st.FailureReason = reason
		s.cascadeAbandonLocked(id, reason)
		return
	}

	st.Status = task.StatusSucceeded
	for _, dep := range s.graph.Dependents(id) {
		s.remainingDeps[dep]--
		if s.remainingDeps[dep] == 0 {
			s.markReady(dep)
		}
	}
}

// cascadeAbandonLocked abandons every transitive dependent of id, recording
// the ancestor's failure reason. Caller holds the lock.
func (s *Scheduler) cascadeAbandonLocked(id, reason string) {
	for _, dep := range s.graph.TransitiveDependents(id) {
		s.abandonLocked(dep, reason)
	}
}

// abandonLocked marks a single non-terminal task abandoned. Caller holds the
// lock.
func (s *Scheduler) abandonLocked(id, reason string) {
	st := s.states[id]
	if st == nil || st.Status.Terminal() {
		return
	}
	if st.Status == task.StatusRunning {
		s.running--
	}
	st.Status = task.StatusAbandoned
	st.FailureReason = reason
}

// Defer re-queues a running task that was denied a rate-limit permit.
//
// The task returns to ready but is held until the given time. When
// countQuota is set the deferral counter advances; the dispatcher fails the
// task once the counter exceeds its backoff tiers. The returned count is the
// post-increment value.
func (s *Scheduler) Defer(id string, until time.Time, countQuota bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.Status != task.StatusRunning {
		return 0
	}
	s.running--
	st.Status = task.StatusReady
	st.notBefore = until
	if countQuota {
		st.quotaDeferrals++
	}
	s.ready = append(s.ready, id)
	return st.quotaDeferrals
}

// QuotaDeferrals returns how many times a task has been quota-deferred.
func (s *Scheduler) QuotaDeferrals(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return 0
	}
	return st.quotaDeferrals
}

// CancelAll abandons every non-terminal task. In-flight invocations are
// expected to observe context cancellation; their late completions are
// recorded but do not resurrect the tasks.
func (s *Scheduler) CancelAll(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.states {
		s.abandonLocked(id, reason)
	}
	s.ready = s.ready[:0]
}

// State returns a snapshot of one task's state.
func (s *Scheduler) State(id string) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

// Snapshot returns a copy of every task state, keyed by task ID.
func (s *Scheduler) Snapshot() map[string]TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TaskState, len(s.states))
	for id, st := range s.states {
		out[id] = *st
	}
	return out
}

// PoolSize returns the concurrent invocation cap.
func (s *Scheduler) PoolSize() int {
	return s.poolSize
}

// Running returns the number of tasks currently in running state.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done reports whether every task has reached a terminal state.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.states {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of tasks per status.
func (s *Scheduler) Counts() map[task.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[task.Status]int, 6)
	for _, st := range s.states {
		out[st.Status]++
	}
	return out
}
