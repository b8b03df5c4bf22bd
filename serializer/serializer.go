package serializer

import (
	"github.com/pkg/errors"
)

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// NewByteSerializerWithName 按名字构造字节序列化器，支持 json/yaml/toml/msgpack
func NewByteSerializerWithName[T any](name string) (Serializer[T, []byte], error) {
	switch name {
	case "", "json":
		return NewJSONSerializer[T](), nil
	case "yaml":
		return NewYAMLSerializer[T](), nil
	case "toml":
		return NewTOMLSerializer[T](), nil
	case "msgpack":
		return NewMsgPackSerializer[T](), nil
	}

	return nil, errors.Errorf("unknown serializer: %s", name)
}
