package record

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func graphRegistry() *Registry {
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{
		Type: "album",
		Properties: []Property{
			&Text{PropertySpec: PropertySpec{Name: "id"}, TextKind: KindUUID},
			&Text{PropertySpec: PropertySpec{Name: "title"}, TextKind: KindString},
			&Scalar{PropertySpec: PropertySpec{Name: "year"}, ScalarKind: KindInt},
		},
		PrimaryKey: "id",
	})
	reg.MustRegister(&Descriptor{
		Type: "band",
		Properties: []Property{
			&Text{PropertySpec: PropertySpec{Name: "id"}, TextKind: KindUUID},
			&Text{PropertySpec: PropertySpec{Name: "name"}, TextKind: KindString},
			&Ref{PropertySpec: PropertySpec{Name: "best_album"}, Model: "album"},
			&List{PropertySpec: PropertySpec{Name: "albums"}, Model: "album"},
		},
		PrimaryKey: "id",
	})
	return reg
}

func TestEncodeDecode(t *testing.T) {
	Convey("Encode/Decode", t, func() {
		reg := graphRegistry()

		band := NewModel("band").
			Set("id", "b1").
			Set("name", "nighthawks").
			Set("best_album", NewModel("album").Set("id", "a1").Set("title", "closing time").Set("year", int64(1973))).
			Set("albums", []any{
				NewModel("album").Set("id", "a1").Set("title", "closing time").Set("year", int64(1973)),
				NewModel("album").Set("id", "a2").Set("title", "rain dogs").Set("year", int64(1985)),
			})

		Convey("编码是确定性的", func() {
			s1, err := Encode(band)
			So(err, ShouldBeNil)
			s2, err := Encode(band)
			So(err, ShouldBeNil)
			So(s1, ShouldEqual, s2)
		})

		Convey("往返保持模型图", func() {
			s, err := Encode(band)
			So(err, ShouldBeNil)

			out, err := Decode(reg, "band", s)
			So(err, ShouldBeNil)
			So(out.Type, ShouldEqual, "band")
			So(out.Get("name"), ShouldEqual, "nighthawks")

			best, ok := out.Get("best_album").(*Model)
			So(ok, ShouldBeTrue)
			So(best.Type, ShouldEqual, "album")
			So(best.Get("year"), ShouldEqual, int64(1973))

			albums, ok := out.Get("albums").([]any)
			So(ok, ShouldBeTrue)
			So(len(albums), ShouldEqual, 2)
			So(albums[1].(*Model).Get("title"), ShouldEqual, "rain dogs")

			// 往返后再编码，字节一致
			s2, err := Encode(out)
			So(err, ShouldBeNil)
			So(s2, ShouldEqual, s)
		})

		Convey("克隆不影响原模型", func() {
			clone := band.Clone()
			clone.Set("name", "changed")
			clone.Get("best_album").(*Model).Set("title", "changed")

			So(band.Get("name"), ShouldEqual, "nighthawks")
			So(band.Get("best_album").(*Model).Get("title"), ShouldEqual, "closing time")
		})

		Convey("id 引用原样保留", func() {
			m := NewModel("band").Set("id", "b2").Set("best_album", "a9").Set("albums", []any{"a1", "a2"})
			s, err := Encode(m)
			So(err, ShouldBeNil)

			out, err := Decode(reg, "band", s)
			So(err, ShouldBeNil)
			So(out.Get("best_album"), ShouldEqual, "a9")
			So(out.Get("albums").([]any)[0], ShouldEqual, "a1")
		})
	})
}
