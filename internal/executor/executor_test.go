package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeralabs/chimerad/internal/task"
)

func okExecutor() Executor {
	return Func(func(ctx context.Context, inv Invocation) (task.Result, error) {
		return task.Result{Status: task.ResultSuccess, ConfidenceScore: 1.0}, nil
	})
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("trend_fetch", okExecutor())

	exec, err := r.Resolve("trend_fetch")
	require.NoError(t, err)
	assert.NotNil(t, exec)

	assert.True(t, r.Known("trend_fetch"))
	assert.False(t, r.Known("wallet_transfer"))
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()
	r.Register("wallet_transfer", okExecutor())
	r.Register("content_generate", okExecutor())
	r.Register("trend_fetch", okExecutor())

	assert.Equal(t,
		[]task.Kind{"content_generate", "trend_fetch", "wallet_transfer"},
		r.Kinds())
}

func TestFunc_Adapter(t *testing.T) {
	called := false
	f := Func(func(ctx context.Context, inv Invocation) (task.Result, error) {
		called = true
		return task.Result{Status: task.ResultSuccess}, nil
	})

	_, err := f.Execute(context.Background(), Invocation{TaskID: "t1"})
	require.NoError(t, err)
	assert.True(t, called)
}
