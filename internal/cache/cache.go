// Package cache provides a bounded in-process TTL cache for expensive
// read aggregates. It is deliberately per-instance state: scaling to
// multiple processes means swapping in a shared cache behind the same
// method set, not sharing this one.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a key/value store with lazy time-based expiry and
// insertion-order eviction.
//
// Expiry is checked at read time against insertion time plus TTL; there
// is no background sweep. When a new key would exceed capacity the
// oldest-inserted entry is evicted. Reads never refresh an entry's
// position (this is not LRU), and overwriting a key keeps its original
// position.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion
	now      func() time.Time
}

const defaultCapacity = 1000

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  map[string]*list.Element{},
		order:    list.New(),
		now:      time.Now,
	}
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.insertedAt = c.now()
		e.ttl = ttl
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushBack(&entry{key: key, value: value, insertedAt: c.now(), ttl: ttl})
	c.entries[key] = el
}

// Get returns the live value for key, or ok=false on miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.insertedAt) > e.ttl {
		c.removeLocked(el)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*list.Element{}
	c.order.Init()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
}
