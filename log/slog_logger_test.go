package log

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewSLogWithOptions(t *testing.T) {
	Convey("NewSLogWithOptions", t, func() {
		Convey("默认配置", func() {
			logger, err := NewSLogWithOptions(&SLogOptions{})
			So(err, ShouldBeNil)
			So(logger, ShouldNotBeNil)
		})

		Convey("nil 配置返回错误", func() {
			logger, err := NewSLogWithOptions(nil)
			So(err, ShouldNotBeNil)
			So(logger, ShouldBeNil)
		})

		Convey("非法级别返回错误", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Level: "verbose"})
			So(err, ShouldNotBeNil)
		})

		Convey("非法格式返回错误", func() {
			_, err := NewSLogWithOptions(&SLogOptions{Format: "xml"})
			So(err, ShouldNotBeNil)
		})

		Convey("json 格式和自定义字段", func() {
			logger, err := NewSLogWithOptions(&SLogOptions{
				Format: "json",
				Fields: map[string]any{"service": "recx"},
			})
			So(err, ShouldBeNil)
			So(logger, ShouldNotBeNil)
			logger.Info("hello", "key", "value")
		})

		Convey("With 和 WithGroup 返回新的 Logger", func() {
			logger, err := NewSLogWithOptions(&SLogOptions{})
			So(err, ShouldBeNil)

			l2 := logger.With("component", "store")
			So(l2, ShouldNotBeNil)
			So(l2, ShouldNotEqual, logger)

			l3 := logger.WithGroup("schema")
			So(l3, ShouldNotBeNil)
		})
	})
}

func TestNewLoggerWithOptions(t *testing.T) {
	Convey("NewLoggerWithOptions", t, func() {
		Convey("nil options 返回默认 Logger", func() {
			logger, err := NewLoggerWithOptions(nil)
			So(err, ShouldBeNil)
			So(logger, ShouldEqual, Default())
		})
	})
}
