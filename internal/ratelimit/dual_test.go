package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chimeralabs/chimerad/internal/task"
)

func TestDual_BothLayersMustGrant(t *testing.T) {
	d := NewDual(
		LimitConfig{Window: time.Minute, Limit: 10},
		map[task.Kind]LimitConfig{
			"trend_fetch": {Window: time.Minute, Limit: 2},
		},
		nil,
	)

	granted, _ := d.Acquire("agent-1", "trend_fetch")
	assert.True(t, granted)
	granted, _ = d.Acquire("agent-1", "trend_fetch")
	assert.True(t, granted)

	// External layer exhausted while internal still has budget.
	granted, layer := d.Acquire("agent-1", "trend_fetch")
	assert.False(t, granted)
	assert.Equal(t, LayerExternal, layer)
}

func TestDual_InternalLayerDenies(t *testing.T) {
	d := NewDual(
		LimitConfig{Window: time.Minute, Limit: 1},
		map[task.Kind]LimitConfig{
			"trend_fetch": {Window: time.Minute, Limit: 100},
		},
		nil,
	)

	granted, _ := d.Acquire("agent-1", "trend_fetch")
	assert.True(t, granted)

	granted, layer := d.Acquire("agent-1", "trend_fetch")
	assert.False(t, granted)
	assert.Equal(t, LayerInternal, layer)
}

func TestDual_KindWithoutExternalQuota(t *testing.T) {
	d := NewDual(LimitConfig{Window: time.Minute, Limit: 2}, nil, nil)

	granted, _ := d.Acquire("agent-1", "content_generate")
	assert.True(t, granted)
	granted, _ = d.Acquire("agent-1", "content_generate")
	assert.True(t, granted)
	granted, layer := d.Acquire("agent-1", "content_generate")
	assert.False(t, granted)
	assert.Equal(t, LayerInternal, layer)
}

func TestDual_ExternalWindowsPerPrincipal(t *testing.T) {
	d := NewDual(
		LimitConfig{Window: time.Minute, Limit: 100},
		map[task.Kind]LimitConfig{
			"wallet_transfer": {Window: time.Minute, Limit: 1},
		},
		nil,
	)

	granted, _ := d.Acquire("agent-1", "wallet_transfer")
	assert.True(t, granted)
	granted, _ = d.Acquire("agent-1", "wallet_transfer")
	assert.False(t, granted)

	// A different principal has its own external window.
	granted, _ = d.Acquire("agent-2", "wallet_transfer")
	assert.True(t, granted)
}
