package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrCacheMiss 键不存在或已过期
var ErrCacheMiss = errors.New("cache miss")

// Cache 字节快照缓存，实现必须并发安全
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

type Options struct {
	Type       string        `cfg:"type" def:"map" validate:"oneof=map freecache redis"`
	Expiration time.Duration `cfg:"expiration"`

	FreeCache FreeCacheOptions `cfg:"freeCache"`
	Redis     RedisOptions     `cfg:"redis"`
}

func NewCacheWithOptions(options *Options) (Cache, error) {
	if options == nil {
		options = &Options{}
	}

	switch options.Type {
	case "", "map":
		return NewMapCacheWithOptions(&MapCacheOptions{Expiration: options.Expiration})
	case "freecache":
		opts := options.FreeCache
		if opts.Expiration == 0 {
			opts.Expiration = options.Expiration
		}
		return NewFreeCacheWithOptions(&opts)
	case "redis":
		opts := options.Redis
		if opts.Expiration == 0 {
			opts.Expiration = options.Expiration
		}
		return NewRedisCacheWithOptions(&opts)
	}

	return nil, errors.Errorf("unsupported cache type: %s", options.Type)
}
