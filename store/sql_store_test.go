package store

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/record"
)

func newTestRegistry() *record.Registry {
	reg := record.NewRegistry()
	reg.MustRegister(&record.Descriptor{
		Type: "label",
		Properties: []record.Property{
			&record.Text{PropertySpec: record.PropertySpec{Name: "id"}, TextKind: record.KindUUID},
			&record.Text{PropertySpec: record.PropertySpec{Name: "name", Required: true, UniqueGroup: "name"}, TextKind: record.KindString, MaxLen: 128},
		},
		PrimaryKey: "id",
	})
	reg.MustRegister(&record.Descriptor{
		Type: "song",
		Properties: []record.Property{
			&record.Text{PropertySpec: record.PropertySpec{Name: "id"}, TextKind: record.KindUUID},
			&record.Text{PropertySpec: record.PropertySpec{Name: "title", Required: true}, TextKind: record.KindString, MaxLen: 255},
			&record.Scalar{PropertySpec: record.PropertySpec{Name: "duration"}, ScalarKind: record.KindInt},
			&record.Ref{PropertySpec: record.PropertySpec{Name: "album"}, Model: "album"},
		},
		PrimaryKey: "id",
	})
	reg.MustRegister(&record.Descriptor{
		Type: "album",
		Properties: []record.Property{
			&record.Text{PropertySpec: record.PropertySpec{Name: "id"}, TextKind: record.KindUUID},
			&record.Text{PropertySpec: record.PropertySpec{Name: "title", Required: true}, TextKind: record.KindString, MaxLen: 255},
			&record.List{PropertySpec: record.PropertySpec{Name: "songs"}, Model: "song", MatchKey: "album"},
		},
		PrimaryKey: "id",
	})
	reg.MustRegister(&record.Descriptor{
		Type: "artist",
		Properties: []record.Property{
			&record.Text{PropertySpec: record.PropertySpec{Name: "id"}, TextKind: record.KindUUID},
			&record.Text{PropertySpec: record.PropertySpec{Name: "first_name"}, TextKind: record.KindString, MaxLen: 128},
			&record.Text{PropertySpec: record.PropertySpec{Name: "last_name", IndexGroup: "last_name"}, TextKind: record.KindString, MaxLen: 128},
			&record.Scalar{PropertySpec: record.PropertySpec{Name: "active", Default: true}, ScalarKind: record.KindBool},
			&record.Scalar{PropertySpec: record.PropertySpec{Name: "debut"}, ScalarKind: record.KindDate},
			&record.Scalar{PropertySpec: record.PropertySpec{Name: "rating"}, ScalarKind: record.KindFloat},
			&record.Ref{PropertySpec: record.PropertySpec{Name: "label"}, Model: "label"},
			&record.List{PropertySpec: record.PropertySpec{Name: "songs"}, Model: "song"},
			&record.Raw{PropertySpec: record.PropertySpec{Name: "tags"}, RawKind: record.KindArray},
		},
		PrimaryKey: "id",
	})
	return reg
}

func newTestSQLStore(t *testing.T) (*SQLStore, *record.Registry) {
	reg := newTestRegistry()
	store, err := NewSQLStoreWithOptions(reg, &driver.Options{
		Driver:   "sqlite3",
		Database: ":memory:",
		MaxConns: 1,
		MaxIdle:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, reg
}

func songTitles(v any) []string {
	items, _ := v.([]any)
	titles := make([]string, 0, len(items))
	for _, item := range items {
		if m, ok := item.(*record.Model); ok {
			titles = append(titles, m.Data["title"].(string))
		}
	}
	return titles
}

func TestSQLStoreRoundTrip(t *testing.T) {
	Convey("嵌套模型图写入后读回", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"artist"})
		So(err, ShouldBeNil)

		artist := record.NewModel("artist").
			Set("first_name", "Tom").
			Set("last_name", "Waits").
			Set("debut", "1973-03-06").
			Set("rating", 4.9).
			Set("tags", []any{"blues", "rock"}).
			Set("label", record.NewModel("label").Set("name", "Asylum")).
			Set("songs", []any{
				record.NewModel("song").Set("title", "Ol' 55").Set("duration", int64(203)),
				record.NewModel("song").Set("title", "Martha").Set("duration", int64(268)),
			})

		saved, err := store.Set(ctx, artist)
		So(err, ShouldBeNil)
		So(saved.Data["id"], ShouldNotBeNil)

		got, err := store.Get(ctx, "artist", saved.Data["id"])
		So(err, ShouldBeNil)
		So(got, ShouldNotBeNil)
		So(got.Data["first_name"], ShouldEqual, "Tom")
		So(got.Data["last_name"], ShouldEqual, "Waits")
		So(got.Data["active"], ShouldEqual, true)
		So(got.Data["debut"], ShouldEqual, "1973-03-06")
		So(got.Data["rating"], ShouldEqual, 4.9)
		So(got.Data["tags"], ShouldResemble, []any{"blues", "rock"})

		label, ok := got.Data["label"].(*record.Model)
		So(ok, ShouldBeTrue)
		So(label.Data["name"], ShouldEqual, "Asylum")

		titles := songTitles(got.Data["songs"])
		So(titles, ShouldHaveLength, 2)
		So(titles, ShouldContain, "Ol' 55")
		So(titles, ShouldContain, "Martha")

		Convey("缺失的记录返回 nil 而不是错误", func() {
			got, err := store.Get(ctx, "artist", "no-such-id")
			So(err, ShouldBeNil)
			So(got, ShouldBeNil)
		})
	})
}

func TestSQLStoreArtistScenario(t *testing.T) {
	Convey("检索、删除和存在性", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"artist"})
		So(err, ShouldBeNil)

		saved, err := store.Set(ctx, record.NewModel("artist").
			Set("first_name", "Tom").Set("last_name", "Waits"))
		So(err, ShouldBeNil)
		id := saved.Data["id"]

		Convey("等值过滤命中唯一记录", func() {
			models, err := store.Filter(ctx, "artist", map[string]any{"last_name": "Waits"})
			So(err, ShouldBeNil)
			So(models, ShouldHaveLength, 1)
			So(models[0].Data["first_name"], ShouldEqual, "Tom")
		})

		Convey("无匹配时返回空集", func() {
			models, err := store.Filter(ctx, "artist", map[string]any{"last_name": "Nobody"})
			So(err, ShouldBeNil)
			So(models, ShouldBeEmpty)
		})

		Convey("删除后记录不再存在", func() {
			deleted, err := store.Delete(ctx, "artist", id)
			So(err, ShouldBeNil)
			So(deleted, ShouldBeTrue)

			exists, err := store.Exists(ctx, "artist", id)
			So(err, ShouldBeNil)
			So(exists, ShouldBeFalse)

			deleted, err = store.Delete(ctx, "artist", id)
			So(err, ShouldBeNil)
			So(deleted, ShouldBeFalse)
		})
	})
}

func TestSQLStorePredicates(t *testing.T) {
	Convey("谓词形态", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"song"})
		So(err, ShouldBeNil)

		for title, duration := range map[string]int64{"a": 100, "b": 200, "c": 300} {
			_, err := store.Set(ctx, record.NewModel("song").Set("title", title).Set("duration", duration))
			So(err, ShouldBeNil)
		}

		Convey("切片映射为 IN", func() {
			models, err := store.Filter(ctx, "song", map[string]any{"title": []any{"a", "c"}})
			So(err, ShouldBeNil)
			So(models, ShouldHaveLength, 2)
		})

		Convey("Range 映射为闭区间 BETWEEN", func() {
			models, err := store.Filter(ctx, "song", map[string]any{"duration": Range{From: int64(100), To: int64(200)}})
			So(err, ShouldBeNil)
			So(models, ShouldHaveLength, 2)
		})

		Convey("List 空 ids 为全量，非空为主键集合", func() {
			all, err := store.List(ctx, "song", nil)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 3)

			subset, err := store.List(ctx, "song", []any{all[0].Data["id"], all[1].Data["id"]})
			So(err, ShouldBeNil)
			So(subset, ShouldHaveLength, 2)
		})
	})
}

func TestSQLStoreRelationReconciliation(t *testing.T) {
	Convey("集合更新后关系表与内存集合一致", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"artist"})
		So(err, ShouldBeNil)

		s1 := record.NewModel("song").Set("title", "s1")
		s2 := record.NewModel("song").Set("title", "s2")
		s3 := record.NewModel("song").Set("title", "s3")

		artist := record.NewModel("artist").Set("last_name", "Waits").
			Set("songs", []any{s1, s2})
		saved, err := store.Set(ctx, artist)
		So(err, ShouldBeNil)
		id := saved.Data["id"]

		current := func() []string {
			got, err := store.Get(ctx, "artist", id)
			So(err, ShouldBeNil)
			return songTitles(got.Data["songs"])
		}
		So(current(), ShouldHaveLength, 2)

		Convey("纯新增", func() {
			saved.Data["songs"] = []any{s1, s2, s3}
			_, err := store.Set(ctx, saved)
			So(err, ShouldBeNil)
			titles := current()
			So(titles, ShouldHaveLength, 3)
			So(titles, ShouldContain, "s3")
		})

		Convey("纯删减", func() {
			saved.Data["songs"] = []any{s2}
			_, err := store.Set(ctx, saved)
			So(err, ShouldBeNil)
			So(current(), ShouldResemble, []string{"s2"})
		})

		Convey("增删混合", func() {
			saved.Data["songs"] = []any{s2, s3}
			_, err := store.Set(ctx, saved)
			So(err, ShouldBeNil)
			titles := current()
			So(titles, ShouldHaveLength, 2)
			So(titles, ShouldContain, "s2")
			So(titles, ShouldContain, "s3")
		})

		Convey("集合缺席时已有关系不受影响", func() {
			delete(saved.Data, "songs")
			saved.Data["last_name"] = "Waits Jr."
			_, err := store.Set(ctx, saved)
			So(err, ShouldBeNil)
			So(current(), ShouldHaveLength, 2)
		})
	})
}

func TestSQLStoreInverseRelation(t *testing.T) {
	Convey("反向关联存储在子模型侧", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"album"})
		So(err, ShouldBeNil)

		album := record.NewModel("album").Set("title", "Closing Time").
			Set("songs", []any{
				record.NewModel("song").Set("title", "Ol' 55"),
				record.NewModel("song").Set("title", "Martha"),
			})
		saved, err := store.Set(ctx, album)
		So(err, ShouldBeNil)

		got, err := store.Get(ctx, "album", saved.Data["id"])
		So(err, ShouldBeNil)
		titles := songTitles(got.Data["songs"])
		So(titles, ShouldHaveLength, 2)
		So(titles, ShouldContain, "Ol' 55")

		Convey("子模型行上的匹配列就是父主键", func() {
			songs, err := store.Filter(ctx, "song", map[string]any{"album": saved.Data["id"]})
			So(err, ShouldBeNil)
			So(songs, ShouldHaveLength, 2)
		})
	})
}

func TestSQLStoreBatchSingleEquivalence(t *testing.T) {
	Convey("批量复原与逐条复原结果一致", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"artist"})
		So(err, ShouldBeNil)

		label, err := store.Set(ctx, record.NewModel("label").Set("name", "Asylum"))
		So(err, ShouldBeNil)

		// 共享同一个厂牌，批量路径对它只查一次
		for i := 0; i < 5; i++ {
			artist := record.NewModel("artist").
				Set("last_name", "Waits").
				Set("label", label.Data["id"]).
				Set("songs", []any{record.NewModel("song").Set("title", "t")})
			_, err := store.Set(ctx, artist)
			So(err, ShouldBeNil)
		}

		batch, err := store.List(ctx, "artist", nil)
		So(err, ShouldBeNil)
		So(batch, ShouldHaveLength, 5)

		for _, m := range batch {
			single, err := store.Get(ctx, "artist", m.Data["id"])
			So(err, ShouldBeNil)
			batchEncoded, err := record.Encode(m)
			So(err, ShouldBeNil)
			singleEncoded, err := record.Encode(single)
			So(err, ShouldBeNil)
			So(batchEncoded, ShouldEqual, singleEncoded)
		}
	})
}

func TestSQLStoreValidation(t *testing.T) {
	Convey("写入前校验失败不触碰存储", t, func() {
		store, _ := newTestSQLStore(t)
		ctx := context.Background()

		_, err := store.Build(ctx, []string{"song"})
		So(err, ShouldBeNil)

		_, err = store.Set(ctx, record.NewModel("song").Set("duration", int64(10)))
		So(err, ShouldNotBeNil)
		var verr *record.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Property, ShouldEqual, "title")

		models, err := store.List(ctx, "song", nil)
		So(err, ShouldBeNil)
		So(models, ShouldBeEmpty)
	})
}
