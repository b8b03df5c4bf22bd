package serializer

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type payload struct {
	Name  string `json:"name" yaml:"name" toml:"name" msgpack:"name"`
	Count int    `json:"count" yaml:"count" toml:"count" msgpack:"count"`
}

func TestNewByteSerializerWithName(t *testing.T) {
	Convey("NewByteSerializerWithName", t, func() {
		Convey("支持的格式", func() {
			for _, name := range []string{"", "json", "yaml", "toml", "msgpack"} {
				s, err := NewByteSerializerWithName[payload](name)
				So(err, ShouldBeNil)
				So(s, ShouldNotBeNil)

				buf, err := s.Serialize(payload{Name: "waits", Count: 3})
				So(err, ShouldBeNil)

				out, err := s.Deserialize(buf)
				So(err, ShouldBeNil)
				So(out.Name, ShouldEqual, "waits")
				So(out.Count, ShouldEqual, 3)
			}
		})

		Convey("未知格式返回错误", func() {
			_, err := NewByteSerializerWithName[payload]("xml")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSerializeNestedMap(t *testing.T) {
	Convey("嵌套 map 文档", t, func() {
		doc := map[string]map[string]any{
			"artist": {
				"first_name": "Tom",
				"last_name":  "Waits",
			},
		}

		for _, name := range []string{"json", "yaml", "toml", "msgpack"} {
			s, err := NewByteSerializerWithName[map[string]map[string]any](name)
			So(err, ShouldBeNil)

			buf, err := s.Serialize(doc)
			So(err, ShouldBeNil)

			out, err := s.Deserialize(buf)
			So(err, ShouldBeNil)
			So(out["artist"]["last_name"], ShouldEqual, "Waits")
		}
	})
}
