package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/task"
)

func newTestCache(t *testing.T) (*Cache, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(10)
	return New(store, zap.NewNop(), nil), store
}

func successResult(id string) task.Result {
	return task.Result{
		TaskID:             id,
		Status:             task.ResultSuccess,
		Payload:            map[string]any{"topics": []string{"golang"}},
		ConfidenceScore:    0.9,
		SanitizationStatus: task.SanitizationOK,
	}
}

func TestCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)

	c.Put("fp-1", successResult("t1"), time.Minute)

	got, ok := c.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TaskID)
	assert.True(t, got.FromCache)
	assert.Equal(t, map[string]any{"topics": []string{"golang"}}, got.Payload)
}

func TestCache_MissOnUnknownFingerprint(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, store := newTestCache(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("fp-1", successResult("t1"), time.Minute)

	_, ok := c.Get("fp-1")
	require.True(t, ok)

	// At exactly stored_at + ttl the entry is already logically absent.
	now = now.Add(time.Minute)
	_, ok = c.Get("fp-1")
	assert.False(t, ok)

	// Lazy eviction removed it from the store.
	assert.Equal(t, 0, store.Len())
}

func TestCache_ZeroTTLNeverStored(t *testing.T) {
	c, store := newTestCache(t)
	c.Put("fp-1", successResult("t1"), 0)
	assert.Equal(t, 0, store.Len())
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("fp-1", successResult("t1"), time.Minute)
	c.Invalidate("fp-1")
	_, ok := c.Get("fp-1")
	assert.False(t, ok)
}

func TestCache_LastWriterWins(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("fp-1", successResult("t1"), time.Minute)

	second := successResult("t1")
	second.Payload = map[string]any{"topics": []string{"ai"}}
	c.Put("fp-1", second, time.Minute)

	got, ok := c.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"topics": []string{"ai"}}, got.Payload)
}

// failingStore simulates an unavailable backing store.
type failingStore struct{}

func (failingStore) Get(string) (*Entry, bool, error) { return nil, false, errors.New("store down") }
func (failingStore) Put(string, *Entry) error         { return errors.New("store down") }
func (failingStore) Delete(string) error              { return errors.New("store down") }

func TestCache_StoreFailureDegradesToMiss(t *testing.T) {
	c := New(failingStore{}, zap.NewNop(), nil)

	// Neither read nor write may surface an error to the caller.
	c.Put("fp-1", successResult("t1"), time.Minute)
	_, ok := c.Get("fp-1")
	assert.False(t, ok)
	c.Invalidate("fp-1")
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	store := NewMemoryStore(2)
	now := time.Now()

	put := func(fp string) {
		require.NoError(t, store.Put(fp, &Entry{Fingerprint: fp, StoredAt: now, TTL: time.Minute}))
	}

	put("a")
	put("b")

	// Touch "a" so "b" becomes least recently used.
	_, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)

	put("c")
	assert.Equal(t, 2, store.Len())

	_, ok, _ = store.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = store.Get("a")
	assert.True(t, ok)
}
