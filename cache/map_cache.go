package cache

import (
	"context"
	"sync"
	"time"
)

type MapCacheOptions struct {
	// Expiration 为 0 表示不过期
	Expiration time.Duration `cfg:"expiration"`
}

// MapCache 进程内 map 缓存，适合测试和小数据量场景
type MapCache struct {
	mutex      sync.RWMutex
	entries    map[string]mapEntry
	expiration time.Duration
}

type mapEntry struct {
	value    []byte
	expireAt time.Time
}

func NewMapCacheWithOptions(options *MapCacheOptions) (*MapCache, error) {
	if options == nil {
		options = &MapCacheOptions{}
	}
	return &MapCache{
		entries:    map[string]mapEntry{},
		expiration: options.Expiration,
	}, nil
}

func (c *MapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expireAt.IsZero() && time.Now().After(entry.expireAt) {
		_ = c.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (c *MapCache) Set(ctx context.Context, key string, value []byte) error {
	entry := mapEntry{value: value}
	if c.expiration > 0 {
		entry.expireAt = time.Now().Add(c.expiration)
	}

	c.mutex.Lock()
	c.entries[key] = entry
	c.mutex.Unlock()
	return nil
}

func (c *MapCache) Del(ctx context.Context, key string) error {
	c.mutex.Lock()
	delete(c.entries, key)
	c.mutex.Unlock()
	return nil
}

func (c *MapCache) Clear(ctx context.Context) error {
	c.mutex.Lock()
	c.entries = map[string]mapEntry{}
	c.mutex.Unlock()
	return nil
}

func (c *MapCache) Close() error {
	return nil
}
