package cache

import "sync"

// InMemoryCache 内存缓存实现，条目不过期也不淘汰
type InMemoryCache[K comparable, V any] struct {
	items map[K]V
	mu    sync.RWMutex
}

// NewInMemoryCache 创建新的内存缓存
func NewInMemoryCache[K comparable, V any]() *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{items: make(map[K]V)}
}

// Get 获取缓存值
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Set 设置缓存值
func (c *InMemoryCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

// Size 获取缓存大小
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Values 返回值快照
func (c *InMemoryCache[K, V]) Values() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[K]V, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}
