// Package cache provides the fingerprint-keyed result cache consulted before
// every executor invocation.
//
// Entries expire after a per-kind TTL. Expired entries are logically absent
// and evicted lazily on lookup. A failing backing store never fails the
// surrounding task: the cache degrades to a forced miss and logs the
// condition.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/task"
)

// Entry is one cached executor result.
type Entry struct {
	Fingerprint string      `json:"fingerprint"`
	Result      task.Result `json:"result"`
	StoredAt    time.Time   `json:"stored_at"`
	TTL         time.Duration `json:"ttl"`
}

// expired reports whether the entry is past stored_at + ttl.
func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.StoredAt.Add(e.TTL))
}

// Store is the backing key/value contract. Any store with atomic writes and
// delete works; TTL bookkeeping lives in the Cache layer.
type Store interface {
	Get(fingerprint string) (*Entry, bool, error)
	Put(fingerprint string, entry *Entry) error
	Delete(fingerprint string) error
}

// Cache wraps a Store with TTL enforcement, degradation, and metrics.
type Cache struct {
	store   Store
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// New creates a Cache over the given store. logger may not be nil; metrics
// may be nil to disable instrumentation.
func New(store Store, logger *zap.Logger, metrics *Metrics) *Cache {
	return &Cache{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns the cached result for fingerprint if present and unexpired.
//
// Store failures are logged and reported as a miss so the dispatcher falls
// through to a fresh execution.
func (c *Cache) Get(fingerprint string) (task.Result, bool) {
	entry, ok, err := c.store.Get(fingerprint)
	if err != nil {
		c.logger.Warn("cache store unavailable, forcing miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		c.recordMiss()
		return task.Result{}, false
	}
	if !ok {
		c.recordMiss()
		return task.Result{}, false
	}

	if entry.expired(c.now()) {
		// Lazy eviction; a delete failure just leaves garbage for next time.
		if err := c.store.Delete(fingerprint); err != nil {
			c.logger.Warn("failed to evict expired cache entry",
				zap.String("fingerprint", fingerprint),
				zap.Error(err))
		}
		c.recordMiss()
		return task.Result{}, false
	}

	c.recordHit()
	result := entry.Result
	result.FromCache = true
	return result, true
}

// Put stores a result under fingerprint with the given TTL. Last writer wins;
// each fingerprint maps to a semantically idempotent computation, so no
// versioning is needed.
func (c *Cache) Put(fingerprint string, result task.Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := &Entry{
		Fingerprint: fingerprint,
		Result:      result,
		StoredAt:    c.now(),
		TTL:         ttl,
	}
	if err := c.store.Put(fingerprint, entry); err != nil {
		c.logger.Warn("cache store write failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
}

// Invalidate removes an entry explicitly.
func (c *Cache) Invalidate(fingerprint string) {
	if err := c.store.Delete(fingerprint); err != nil {
		c.logger.Warn("cache invalidation failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordHit()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordMiss()
	}
}

// MemoryStore is the in-process Store used by default. It is thread-safe and
// bounds its size with least-recently-used eviction.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	maxEntries int
}

type memoryEntry struct {
	entry        *Entry
	lastAccessed time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(fingerprint string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	me.lastAccessed = time.Now()
	return me.entry, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(fingerprint string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[fingerprint]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLRU()
	}
	s.entries[fingerprint] = &memoryEntry{entry: entry, lastAccessed: time.Now()}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// Len returns the current number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLRU removes the least recently accessed entry. Caller holds the lock.
func (s *MemoryStore) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, me := range s.entries {
		if first || me.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = me.lastAccessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
