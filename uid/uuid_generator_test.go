package uid

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestUUIDGenerator(t *testing.T) {
	Convey("UUIDGenerator", t, func() {
		Convey("默认配置生成32位十六进制", func() {
			g := NewUUIDGeneratorWithOptions(nil)
			id := g.Generate()
			So(len(id), ShouldEqual, 32)
			So(id, ShouldNotContainSubstring, "-")
		})

		Convey("带连字符的标准格式", func() {
			g := NewUUIDGeneratorWithOptions(&UUIDOptions{WithHyphens: true})
			id := g.Generate()
			So(len(id), ShouldEqual, 36)
			So(id, ShouldContainSubstring, "-")
		})

		Convey("v7 版本可生成", func() {
			g := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v7"})
			So(g.Generate(), ShouldNotBeEmpty)
		})

		Convey("连续生成不重复", func() {
			g := NewUUIDGeneratorWithOptions(nil)
			So(g.Generate(), ShouldNotEqual, g.Generate())
		})
	})
}
