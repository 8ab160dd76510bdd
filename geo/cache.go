package geo

import (
	"context"
	"sync"
)

// MemoryCache never evicts. When a backing cache is set, reads fall through to it
// and writes go to both.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Point
	backing Cache
}

func NewMemoryCache(backing Cache) *MemoryCache {
	return &MemoryCache{entries: make(map[string]Point), backing: backing}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (Point, bool, error) {
	c.mu.RLock()
	p, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.backing == nil {
		return p, ok, nil
	}

	p, ok, err := c.backing.Get(ctx, key)
	if err != nil || !ok {
		return Point{}, false, err
	}
	c.mu.Lock()
	c.entries[key] = p
	c.mu.Unlock()
	return p, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, p Point) error {
	c.mu.Lock()
	c.entries[key] = p
	c.mu.Unlock()
	if c.backing != nil {
		return c.backing.Put(ctx, key, p)
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
