package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l := NewLimiter(5, time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Acquire("agent-1"), "request %d should be granted", i+1)
	}
	assert.False(t, l.Acquire("agent-1"), "6th request should be denied")
}

func TestLimiter_EleventhRequestDenied(t *testing.T) {
	// 10 requests per minute is the default internal orchestrator quota.
	l := NewLimiter(10, time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Acquire("agent-1"))
	}
	assert.False(t, l.Acquire("agent-1"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	assert.True(t, l.Acquire("agent-1"))
	assert.False(t, l.Acquire("agent-1"))
	assert.True(t, l.Acquire("agent-2"))
}

func TestLimiter_WindowResets(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Acquire("agent-1"))
	assert.True(t, l.Acquire("agent-1"))
	assert.False(t, l.Acquire("agent-1"))

	// Advance past the window boundary; count must reset before evaluation.
	now = now.Add(time.Minute)
	assert.True(t, l.Acquire("agent-1"))
	assert.Equal(t, 1, l.Limit()-l.Remaining("agent-1"))
}

func TestLimiter_Remaining(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	assert.Equal(t, 3, l.Remaining("agent-1"))
	l.Acquire("agent-1")
	assert.Equal(t, 2, l.Remaining("agent-1"))
}

func TestLimiter_ConcurrentSoundness(t *testing.T) {
	const limit = 50
	l := NewLimiter(limit, time.Minute)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("agent-1") {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Grants never exceed the limit, even under concurrent callers.
	assert.Equal(t, int64(limit), granted.Load())
}
