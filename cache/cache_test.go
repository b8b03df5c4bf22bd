package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"
)

func testCacheBehavior(cache Cache) {
	ctx := context.Background()

	Convey("未写入的键返回 ErrCacheMiss", func() {
		_, err := cache.Get(ctx, "missing")
		So(err, ShouldEqual, ErrCacheMiss)
	})

	Convey("写入后可读回", func() {
		So(cache.Set(ctx, "key1", []byte("value1")), ShouldBeNil)
		value, err := cache.Get(ctx, "key1")
		So(err, ShouldBeNil)
		So(string(value), ShouldEqual, "value1")
	})

	Convey("删除后再读返回 ErrCacheMiss", func() {
		So(cache.Set(ctx, "key2", []byte("value2")), ShouldBeNil)
		So(cache.Del(ctx, "key2"), ShouldBeNil)
		_, err := cache.Get(ctx, "key2")
		So(err, ShouldEqual, ErrCacheMiss)
	})

	Convey("Clear 清空全部键", func() {
		So(cache.Set(ctx, "key3", []byte("value3")), ShouldBeNil)
		So(cache.Set(ctx, "key4", []byte("value4")), ShouldBeNil)
		So(cache.Clear(ctx), ShouldBeNil)
		_, err := cache.Get(ctx, "key3")
		So(err, ShouldEqual, ErrCacheMiss)
		_, err = cache.Get(ctx, "key4")
		So(err, ShouldEqual, ErrCacheMiss)
	})
}

func TestMapCache(t *testing.T) {
	Convey("map 缓存", t, func() {
		cache, err := NewMapCacheWithOptions(nil)
		So(err, ShouldBeNil)
		defer cache.Close()
		testCacheBehavior(cache)
	})

	Convey("map 缓存过期", t, func() {
		cache, err := NewMapCacheWithOptions(&MapCacheOptions{Expiration: 10 * time.Millisecond})
		So(err, ShouldBeNil)
		defer cache.Close()

		ctx := context.Background()
		So(cache.Set(ctx, "key", []byte("value")), ShouldBeNil)
		time.Sleep(20 * time.Millisecond)
		_, err = cache.Get(ctx, "key")
		So(err, ShouldEqual, ErrCacheMiss)
	})
}

func TestFreeCache(t *testing.T) {
	Convey("freecache 缓存", t, func() {
		cache, err := NewFreeCacheWithOptions(nil)
		So(err, ShouldBeNil)
		defer cache.Close()
		testCacheBehavior(cache)
	})
}

func TestRedisCache(t *testing.T) {
	Convey("redis 缓存", t, func() {
		server := miniredis.RunT(t)
		cache, err := NewRedisCacheWithOptions(&RedisOptions{Addr: server.Addr()})
		So(err, ShouldBeNil)
		defer cache.Close()
		testCacheBehavior(cache)

		Convey("Clear 只清除本前缀下的键", func() {
			ctx := context.Background()
			So(server.Set("other:key", "value"), ShouldBeNil)
			So(cache.Set(ctx, "mine", []byte("value")), ShouldBeNil)
			So(cache.Clear(ctx), ShouldBeNil)
			_, err := cache.Get(ctx, "mine")
			So(err, ShouldEqual, ErrCacheMiss)
			So(server.Exists("other:key"), ShouldBeTrue)
		})
	})
}

func TestNewCacheWithOptions(t *testing.T) {
	Convey("按类型构造缓存", t, func() {
		cache, err := NewCacheWithOptions(&Options{Type: "map"})
		So(err, ShouldBeNil)
		So(cache, ShouldHaveSameTypeAs, &MapCache{})

		cache, err = NewCacheWithOptions(&Options{Type: "freecache"})
		So(err, ShouldBeNil)
		So(cache, ShouldHaveSameTypeAs, &FreeCache{})

		_, err = NewCacheWithOptions(&Options{Type: "unknown"})
		So(err, ShouldNotBeNil)
	})
}
