package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded, TTL-aware map that evicts the least recently used entry
// once capacity is reached. It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[K]*list.Element
	now      func() time.Time
	onEvict  func(K, V)
}

type lruEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewLRU returns a cache holding at most capacity entries. A ttl of zero keeps
// entries until they are evicted.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
		now:      time.Now,
	}
}

// OnEvict registers a callback invoked for capacity and expiry evictions.
func (c *LRU[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*lruEntry[K, V])
	if c.expired(entry) {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

// Add inserts or replaces the value, refreshing its TTL.
func (c *LRU[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry[K, V])
		entry.value = value
		entry.expiresAt = c.deadline()
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry[K, V]{key: key, value: value, expiresAt: c.deadline()})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
	}
}

// GetOrAdd returns the live value for key, creating it with build when absent.
func (c *LRU[K, V]) GetOrAdd(key K, build func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry[K, V])
		if !c.expired(entry) {
			entry.expiresAt = c.deadline()
			c.order.MoveToFront(el)
			return entry.value
		}
		c.removeElement(el)
	}
	value := build()
	el := c.order.PushFront(&lruEntry[K, V]{key: key, value: value, expiresAt: c.deadline()})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
	}
	return value
}

// Remove drops key if present.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of stored entries, expired ones included until swept.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *LRU[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*lruEntry[K, V])) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *LRU[K, V]) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *LRU[K, V]) expired(entry *lruEntry[K, V]) bool {
	return !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	entry := el.Value.(*lruEntry[K, V])
	c.order.Remove(el)
	delete(c.items, entry.key)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}
