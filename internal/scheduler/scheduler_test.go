package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeralabs/chimerad/internal/graph"
	"github.com/chimeralabs/chimerad/internal/task"
)

func mustGraph(t *testing.T, tasks ...*task.Task) *graph.Graph {
	t.Helper()
	g, err := graph.Build(tasks)
	require.NoError(t, err)
	return g
}

func simpleTask(id string, deps ...string) *task.Task {
	return &task.Task{ID: id, Kind: "trend_fetch", Principal: "agent-1", Dependencies: deps}
}

func successResult(id string) task.Result {
	return task.Result{TaskID: id, Status: task.ResultSuccess, ConfidenceScore: 0.9}
}

func errorResult(id, code, msg string) task.Result {
	return task.Result{
		TaskID: id,
		Status: task.ResultError,
		Errors: []task.Error{{Code: code, Message: msg}},
	}
}

func TestScheduler_RootsReadyImmediately(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("a"),
		simpleTask("b", "a"),
	), 4)

	st, ok := s.State("a")
	require.True(t, ok)
	assert.Equal(t, task.StatusReady, st.Status)

	st, _ = s.State("b")
	assert.Equal(t, task.StatusPending, st.Status)
}

func TestScheduler_DependencyOrdering(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("fetch"),
		simpleTask("generate", "fetch"),
		simpleTask("payout", "generate"),
	), 4)

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "fetch", next.ID)

	// Nothing else dispatchable until fetch completes.
	_, ok = s.Next()
	assert.False(t, ok)

	s.Complete("fetch", successResult("fetch"))

	next, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "generate", next.ID)

	s.Complete("generate", successResult("generate"))

	next, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "payout", next.ID)

	s.Complete("payout", successResult("payout"))
	assert.True(t, s.Done())
}

func TestScheduler_PoolSaturation(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("a"),
		simpleTask("b"),
		simpleTask("c"),
	), 2)

	_, ok := s.Next()
	require.True(t, ok)
	_, ok = s.Next()
	require.True(t, ok)

	// Pool of 2 is full.
	_, ok = s.Next()
	assert.False(t, ok)
	assert.Equal(t, 2, s.Running())
}

func TestScheduler_PriorityThenDeadlineThenInsertion(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	tasks := []*task.Task{
		{ID: "late", Kind: "trend_fetch", Principal: "agent-1", Priority: 1},
		{ID: "urgent", Kind: "trend_fetch", Principal: "agent-1", Priority: 5},
		{ID: "deadlined", Kind: "trend_fetch", Principal: "agent-1", Priority: 1, Deadline: deadline},
		{ID: "first", Kind: "trend_fetch", Principal: "agent-1", Priority: 1},
	}
	s := New(mustGraph(t, tasks...), 8)

	var order []string
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		order = append(order, next.ID)
	}

	// Highest priority first, then the deadlined task, then insertion order.
	assert.Equal(t, []string{"urgent", "deadlined", "late", "first"}, order)
}

func TestScheduler_FailureCascadesToTransitiveDependents(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("fetch"),
		simpleTask("generate", "fetch"),
		simpleTask("payout", "generate"),
		simpleTask("unrelated"),
	), 8)

	_, _ = s.Next() // fetch
	_, _ = s.Next() // unrelated

	s.Complete("fetch", errorResult("fetch", task.CodeNetworkTimeout, "dial timeout"))

	st, _ := s.State("fetch")
	assert.Equal(t, task.StatusFailed, st.Status)

	// Both downstream tasks abandoned, each naming the root cause.
	for _, id := range []string{"generate", "payout"} {
		st, _ := s.State(id)
		assert.Equal(t, task.StatusAbandoned, st.Status, id)
		assert.Contains(t, st.FailureReason, "fetch failed")
		assert.Contains(t, st.FailureReason, task.CodeNetworkTimeout)
	}

	// The independent branch is untouched.
	st, _ = s.State("unrelated")
	assert.Equal(t, task.StatusRunning, st.Status)
}

func TestScheduler_DeadlineExpiredBeforeStart(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	tasks := []*task.Task{
		{ID: "expired", Kind: "trend_fetch", Principal: "agent-1", Deadline: past},
		simpleTask("fresh"),
	}
	s := New(mustGraph(t, tasks...), 8)

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "fresh", next.ID)

	st, _ := s.State("expired")
	assert.Equal(t, task.StatusAbandoned, st.Status)
	assert.Contains(t, st.FailureReason, "deadline")
}

func TestScheduler_DeferHoldsUntilNotBefore(t *testing.T) {
	base := time.Now()
	s := New(mustGraph(t, simpleTask("a")), 8)
	s.now = func() time.Time { return base }

	next, ok := s.Next()
	require.True(t, ok)

	attempts := s.Defer(next.ID, base.Add(time.Second), true)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, s.Running())

	// Held: not dispatchable yet.
	_, ok = s.Next()
	assert.False(t, ok)

	// Hold expired.
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	next, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "a", next.ID)
	assert.Equal(t, 1, s.QuotaDeferrals("a"))
}

func TestScheduler_DeferWithoutQuotaCount(t *testing.T) {
	s := New(mustGraph(t, simpleTask("a")), 8)

	_, ok := s.Next()
	require.True(t, ok)

	s.Defer("a", time.Now().Add(-time.Second), false)
	assert.Equal(t, 0, s.QuotaDeferrals("a"))
}

func TestScheduler_CompleteOnTerminalKeepsResult(t *testing.T) {
	s := New(mustGraph(t, simpleTask("a")), 8)

	_, _ = s.Next()
	s.CancelAll("shutting down")

	st, _ := s.State("a")
	require.Equal(t, task.StatusAbandoned, st.Status)

	// Straggler completion after cancellation: result kept, state unchanged.
	s.Complete("a", successResult("a"))
	st, _ = s.State("a")
	assert.Equal(t, task.StatusAbandoned, st.Status)
	require.NotNil(t, st.Result)
	assert.Equal(t, task.ResultSuccess, st.Result.Status)
}

func TestScheduler_CancelAll(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("a"),
		simpleTask("b", "a"),
	), 8)

	_, _ = s.Next()
	s.CancelAll("run cancelled")

	assert.True(t, s.Done())
	counts := s.Counts()
	assert.Equal(t, 2, counts[task.StatusAbandoned])
	assert.Equal(t, 0, s.Running())
}

func TestScheduler_DiamondReadiness(t *testing.T) {
	s := New(mustGraph(t,
		simpleTask("root"),
		simpleTask("left", "root"),
		simpleTask("right", "root"),
		simpleTask("join", "left", "right"),
	), 8)

	next, _ := s.Next()
	s.Complete(next.ID, successResult(next.ID))

	// Both branches ready, join still pending.
	first, ok := s.Next()
	require.True(t, ok)
	second, ok := s.Next()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"left", "right"}, []string{first.ID, second.ID})

	st, _ := s.State("join")
	assert.Equal(t, task.StatusPending, st.Status)

	s.Complete(first.ID, successResult(first.ID))
	_, ok = s.Next()
	assert.False(t, ok, "join must wait for both branches")

	s.Complete(second.ID, successResult(second.ID))
	next, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "join", next.ID)
}

func TestScheduler_SnapshotIsCopy(t *testing.T) {
	s := New(mustGraph(t, simpleTask("a")), 8)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, task.StatusReady, snap["a"].Status)

	// Mutating the snapshot must not touch scheduler state.
	entry := snap["a"]
	entry.Status = task.StatusFailed
	snap["a"] = entry

	st, _ := s.State("a")
	assert.Equal(t, task.StatusReady, st.Status)
}
