package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"

	"github.com/hatlonely/recx/cfg"
)

type FreeCacheOptions struct {
	// MemBytes 缓存总内存上限，freecache 预分配
	MemBytes   int           `cfg:"memBytes" def:"67108864"`
	Expiration time.Duration `cfg:"expiration"`
}

// FreeCache 固定内存上限的进程内缓存，零 GC 压力，写满后按 LRU 近似淘汰
type FreeCache struct {
	cache      *freecache.Cache
	expiration time.Duration
}

func NewFreeCacheWithOptions(options *FreeCacheOptions) (*FreeCache, error) {
	if options == nil {
		options = &FreeCacheOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}

	return &FreeCache{
		cache:      freecache.NewCache(options.MemBytes),
		expiration: options.Expiration,
	}, nil
}

func (c *FreeCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, errors.Wrap(err, "freecache.Get failed")
	}
	return value, nil
}

func (c *FreeCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.cache.Set([]byte(key), value, int(c.expiration.Seconds())); err != nil {
		return errors.Wrap(err, "freecache.Set failed")
	}
	return nil
}

func (c *FreeCache) Del(ctx context.Context, key string) error {
	c.cache.Del([]byte(key))
	return nil
}

func (c *FreeCache) Clear(ctx context.Context) error {
	c.cache.Clear()
	return nil
}

func (c *FreeCache) Close() error {
	c.cache.Clear()
	return nil
}
