package gate

import (
	"sync"
	"time"

	"lostack/internal/registry"
)

// Resolution 是一次服务名解析的缓存值。Found 为 false 表示目录中没有该服务，
// 这类否定结果同样缓存，避免每个请求都打一次目录查询。
type Resolution struct {
	Found  bool
	Target *registry.Target
}

type cacheEntry struct {
	value     Resolution
	timestamp time.Time
}

// Cache 是一个短 TTL 的解析缓存。它只缓存服务名到目录条目的映射，
// 从不缓存授权判定本身：组交集每次请求都重新计算，过期条目视同不存在。
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached resolution for key, or ok=false when absent or
// expired. Expired entries are evicted on read.
func (c *Cache) Get(key string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Resolution{}, false
	}
	if c.now().Sub(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		return Resolution{}, false
	}
	return entry.value, true
}

func (c *Cache) Set(key string, value Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, timestamp: c.now()}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// SweepExpired drops every expired entry and returns how many were removed.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.timestamp.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
