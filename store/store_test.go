package store

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/recx/cache"
	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/record"
)

func TestNewStoreWithOptions(t *testing.T) {
	Convey("按配置组装存储栈", t, func() {
		reg := newTestRegistry()
		ctx := context.Background()

		Convey("默认组装关系型存储", func() {
			store, err := NewStoreWithOptions(reg, &Options{
				SQL: driver.Options{
					Driver:   "sqlite3",
					Database: ":memory:",
					MaxConns: 1,
					MaxIdle:  1,
				},
			})
			So(err, ShouldBeNil)
			defer store.Close()
			So(store, ShouldHaveSameTypeAs, &SQLStore{})

			_, err = store.Build(ctx, []string{"label"})
			So(err, ShouldBeNil)
			saved, err := store.Set(ctx, record.NewModel("label").Set("name", "Asylum"))
			So(err, ShouldBeNil)
			got, err := store.Get(ctx, "label", saved.Data["id"])
			So(err, ShouldBeNil)
			So(got.Data["name"], ShouldEqual, "Asylum")
		})

		Convey("文件存储", func() {
			store, err := NewStoreWithOptions(reg, &Options{
				Type: "file",
				File: FileStoreOptions{Path: filepath.Join(t.TempDir(), "records.yaml"), Format: "yaml"},
			})
			So(err, ShouldBeNil)
			defer store.Close()
			So(store, ShouldHaveSameTypeAs, &FileStore{})
		})

		Convey("bolt 存储", func() {
			store, err := NewStoreWithOptions(reg, &Options{
				Type: "bolt",
				Bolt: BoltStoreOptions{Path: filepath.Join(t.TempDir(), "records.db")},
			})
			So(err, ShouldBeNil)
			defer store.Close()
			So(store, ShouldHaveSameTypeAs, &BoltStore{})
		})

		Convey("带缓存层的完整栈", func() {
			store, err := NewStoreWithOptions(reg, &Options{
				SQL: driver.Options{
					Driver:   "sqlite3",
					Database: ":memory:",
					MaxConns: 1,
					MaxIdle:  1,
				},
				Cache: &cache.Options{Type: "freecache"},
			})
			So(err, ShouldBeNil)
			defer store.Close()
			So(store, ShouldHaveSameTypeAs, &CacheStore{})

			_, err = store.Build(ctx, []string{"artist"})
			So(err, ShouldBeNil)
			saved, err := store.Set(ctx, record.NewModel("artist").Set("last_name", "Waits"))
			So(err, ShouldBeNil)
			got, err := store.Get(ctx, "artist", saved.Data["id"])
			So(err, ShouldBeNil)
			So(got.Data["last_name"], ShouldEqual, "Waits")
		})

		Convey("带观测层的完整栈", func() {
			store, err := NewStoreWithOptions(reg, &Options{
				SQL: driver.Options{
					Driver:   "sqlite3",
					Database: ":memory:",
					MaxConns: 1,
					MaxIdle:  1,
				},
				Observable: &ObservableOptions{
					Name: "recx_store_factory_test",
				},
			})
			So(err, ShouldBeNil)
			defer store.Close()
			So(store, ShouldHaveSameTypeAs, &ObservableStore{})

			_, err = store.Build(ctx, []string{"label"})
			So(err, ShouldBeNil)
			saved, err := store.Set(ctx, record.NewModel("label").Set("name", "Asylum"))
			So(err, ShouldBeNil)
			exists, err := store.Exists(ctx, "label", saved.Data["id"])
			So(err, ShouldBeNil)
			So(exists, ShouldBeTrue)
		})

		Convey("未知类型报错", func() {
			_, err := NewStoreWithOptions(reg, &Options{Type: "unknown"})
			So(err, ShouldNotBeNil)
		})

		Convey("空参数报错", func() {
			_, err := NewStoreWithOptions(reg, nil)
			So(err, ShouldNotBeNil)
			_, err = NewStoreWithOptions(nil, &Options{})
			So(err, ShouldNotBeNil)
		})
	})
}
