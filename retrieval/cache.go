package retrieval

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache is the byte-oriented TTL cache contract shared by the embedding and
// result caches. Get reports a miss with ok=false; expired entries count as
// misses. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// entry is one cached value with its expiry.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache evicting by TTL expiry and, when the
// capacity is exceeded, by least-recent use.
type MemoryCache struct {
	capacity int
	clock    func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used
}

// NewMemoryCache creates a cache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryCache{
		capacity: capacity,
		clock:    time.Now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value unless it is absent or expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if c.clock().After(e.expiresAt) {
		c.removeLocked(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.value, true, nil
}

// Set stores the value with the given TTL, evicting the least recently used
// entry when the cache is full.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = c.clock().Add(ttl)
		c.order.MoveToFront(el)
		return nil
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: c.clock().Add(ttl)})
	c.items[key] = el
	return nil
}

// Len returns the number of live entries (including not-yet-evicted expired ones).
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}
