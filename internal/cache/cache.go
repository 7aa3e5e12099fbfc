// ABOUTME: Thread-safe, size-bounded TTL cache for serialized capability results.
// ABOUTME: Least recently used entries are evicted first; expired entries are swept in the background.

package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed.
const DefaultSweepInterval = time.Minute

// entry stores a cached value, its lifetime, and its list element.
type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	element  *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// Stats reports cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache maps string keys to byte values with a per-entry TTL. Values are
// copied on the way in and out so callers never share the stored slice.
// Uses a doubly-linked list in recency order (least recent at front) for O(1) eviction.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	order     *list.List
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
	gen       uint64 // bumped by InvalidateContaining
	done      chan struct{}
	closed    bool
}

// New creates a cache holding at most maxSize entries. A background
// goroutine sweeps expired entries every sweepInterval (DefaultSweepInterval if zero).
func New(maxSize int, sweepInterval time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval)
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(key, e)
		c.misses++
		return nil, false
	}
	c.order.MoveToBack(e.element)
	c.hits++
	return clone(e.value), true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// Generation returns the invalidation generation. Pass it to SetIfGeneration
// to store a value computed after this point.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetIfGeneration stores value only if no invalidation ran since gen was
// read, so a result computed before a mutation never outlives it. It
// reports whether the value was stored.
func (c *Cache) SetIfGeneration(key string, value []byte, ttl time.Duration, gen uint64) bool {
	if ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setLocked(key, value, ttl)
	return true
}

func (c *Cache) setLocked(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.value = clone(value)
		e.storedAt = now
		e.ttl = ttl
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry{
		value:    clone(value),
		storedAt: now,
		ttl:      ttl,
		element:  c.order.PushBack(key),
	}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// InvalidateContaining removes every entry whose key contains substr and
// returns how many were removed.
func (c *Cache) InvalidateContaining(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	n := 0
	for key, e := range c.entries {
		if strings.Contains(key, substr) {
			c.removeLocked(key, e)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// evictOldest removes the least recently used entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
	c.evictions++
}

func (c *Cache) removeLocked(key string, e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, key)
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key, e)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
