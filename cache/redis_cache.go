package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hatlonely/recx/cfg"
)

type RedisOptions struct {
	Addr       string        `cfg:"addr" def:"localhost:6379"`
	Password   string        `cfg:"password"`
	DB         int           `cfg:"db"`
	KeyPrefix  string        `cfg:"keyPrefix" def:"recx:"`
	Timeout    time.Duration `cfg:"timeout" def:"3s"`
	Expiration time.Duration `cfg:"expiration"`
}

// RedisCache 进程外共享缓存，多实例共用同一份快照时使用。
// 所有键带统一前缀，Clear 只扫除本前缀下的键
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	expiration time.Duration
}

func NewRedisCacheWithOptions(options *RedisOptions) (*RedisCache, error) {
	if options == nil {
		options = &RedisOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         options.Addr,
		Password:     options.Password,
		DB:           options.DB,
		DialTimeout:  options.Timeout,
		ReadTimeout:  options.Timeout,
		WriteTimeout: options.Timeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "redis.Ping failed")
	}

	return &RedisCache{
		client:     client,
		keyPrefix:  options.KeyPrefix,
		expiration: options.Expiration,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, errors.Wrap(err, "redis.Get failed")
	}
	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, value, c.expiration).Err(); err != nil {
		return errors.Wrap(err, "redis.Set failed")
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis.Del failed")
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "redis.Del failed")
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "redis.Scan failed")
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "redis.Del failed")
		}
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
