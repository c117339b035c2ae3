// ABOUTME: Thread-safe TTL and size bounded cache with insertion-order eviction
// ABOUTME: Backs event deduplication and pending menu lookup in the Matrix bridge

package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key     string
	value   V
	stamped time.Time
}

// Cache maps keys to values for at most ttl, holding no more than maxSize
// entries. The zero value is not usable; call New.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache and starts a janitor goroutine that drops expired
// entries. Call Close to stop it.
func New[V any](ttl time.Duration, maxSize int, opts ...Option[V]) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.janitor(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < time.Minute:
		return ttl
	default:
		return time.Minute
	}
}

// Get returns the live value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(elem)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// Seen reports whether key was already recorded and live. A new key is
// recorded in the same step, so concurrent callers cannot both see false.
func (c *Cache[V]) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok && !c.expired(elem.Value.(*entry[V])) {
		return true
	}
	var zero V
	c.setLocked(key, zero)
	return false
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if c.expired(elem.Value.(*entry[V])) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache[V]) setLocked(key string, value V) {
	now := c.now()
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.stamped = now
		c.order.MoveToBack(elem)
		return
	}

	for len(c.items) >= c.maxSize {
		c.removeElement(c.order.Front())
	}
	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, stamped: now})
}

func (c *Cache[V]) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	e := elem.Value.(*entry[V])
	c.order.Remove(elem)
	delete(c.items, e.key)
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.stamped) >= c.ttl
}

func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
