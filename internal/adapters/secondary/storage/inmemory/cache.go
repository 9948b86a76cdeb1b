package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
)

// Cache in-memory реализация cache.Cache с TTL, для запуска без Redis
type Cache struct {
	mu    sync.RWMutex
	items    map[string]cacheItem
	versions map[string]int64
	now      func() time.Time
}

type cacheItem struct {
	value     string
	expiresAt time.Time
}

func NewCache() *Cache {
	return &Cache{
		items:    make(map[string]cacheItem),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || (!item.expiresAt.IsZero() && !c.now().Before(item.expiresAt)) {
		return "", cache.ErrMiss
	}
	return item.value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Version(ctx context.Context, versionKey string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versions[versionKey], nil
}

// Bump ttl версии не учитывает: счётчик живёт, пока жив процесс
func (c *Cache) Bump(ctx context.Context, versionKey string, ttl time.Duration, keys ...string) error {
	c.mu.Lock()
	c.versions[versionKey]++
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) SetIfVersion(ctx context.Context, versionKey string, version int64, key, value string, ttl time.Duration) (bool, error) {
	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[versionKey] != version {
		return false, nil
	}
	c.items[key] = item
	return true, nil
}

func (c *Cache) Close() error {
	return nil
}
