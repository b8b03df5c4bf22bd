package serializer

import (
	"github.com/BurntSushi/toml"
)

// TOMLSerializer 注意 toml 不支持 null 值，文档中的空值需要在上层省略
type TOMLSerializer[T any] struct{}

func NewTOMLSerializer[T any]() *TOMLSerializer[T] {
	return &TOMLSerializer[T]{}
}

func (s *TOMLSerializer[T]) Serialize(from T) ([]byte, error) {
	return toml.Marshal(from)
}

func (s *TOMLSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	err := toml.Unmarshal(to, &result)
	return result, err
}
