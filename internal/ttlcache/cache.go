// ABOUTME: Thread-safe TTL key/value cache shared by token and permission validation.
// ABOUTME: One mutex serves both HTTP handlers and relay goroutines uniformly.

package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the cached value, its expiry deadline, and its list element.
type entry struct {
	value    any
	deadline time.Time
	element  *list.Element
}

// Cache is a mutex-guarded, TTL-based, size-limited key/value store. All
// validation results (connect-time grants, per-command permission pairs)
// live in instances of this type so they can be constructed per test case
// instead of as package globals. Uses a doubly-linked list to maintain
// insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached value for key, or (nil, false) if the key is
// absent or its TTL has elapsed. Expired entries are removed on read so a
// subsequent Set starts a fresh deadline.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.deadline) {
		c.removeLocked(key, e)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with a fresh TTL deadline. If the cache is at
// capacity the oldest entry is evicted to make room.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.ttl)

	if e, exists := c.entries[key]; exists {
		e.value = value
		e.deadline = deadline
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{value: value, deadline: deadline, element: elem}
}

// Pop removes and returns the value for key. Used by the logout/revocation
// path so a revoked credential is no longer trusted locally.
func (c *Cache) Pop(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	expired := time.Now().After(e.deadline)
	c.removeLocked(key, e)
	if expired {
		return nil, false
	}
	return e.value, true
}

// Len returns the number of entries currently held, including any whose TTL
// has elapsed but which have not yet been cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked deletes an entry. Must be called with mu held.
func (c *Cache) removeLocked(key string, e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// cleanup runs in a background goroutine, periodically removing expired
// entries so abandoned credentials do not accumulate.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.deadline) {
			c.removeLocked(key, e)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
