package record

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode 将模型图编码为确定性的 JSON 字符串（map 键有序），
// 同一份数据两次编码字节一致，可作缓存快照直接比较
func Encode(m *Model) (string, error) {
	buf, err := json.Marshal(plainValue(m))
	if err != nil {
		return "", errors.Wrap(err, "json.Marshal failed")
	}
	return string(buf), nil
}

// plainValue 将内嵌模型替换为其数据 map，使编码结果与类型上下文无关
func plainValue(v any) any {
	switch val := v.(type) {
	case *Model:
		out := make(map[string]any, len(val.Data))
		for k, item := range val.Data {
			out[k] = plainValue(item)
		}
		return out
	case []*Model:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = plainValue(m)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plainValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plainValue(item)
		}
		return out
	}
	return v
}

// Decode 从 Encode 的结果还原模型图，嵌套结构按描述复原为 *Model
func Decode(reg *Registry, typ string, s string) (*Model, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal failed")
	}
	return Revive(reg, typ, data)
}

// Revive 将泛型 map（JSON/YAML 解码产物）按描述复原为模型：
// 嵌套 map 变为子模型，数字按属性类型收敛为 int64/float64
func Revive(reg *Registry, typ string, data map[string]any) (*Model, error) {
	desc, err := reg.Get(typ)
	if err != nil {
		return nil, err
	}

	m := NewModel(typ)
	for name, v := range data {
		p := desc.Property(name)
		if p == nil || v == nil {
			m.Data[name] = v
			continue
		}

		revived, err := reviveValue(reg, p, v)
		if err != nil {
			return nil, errors.WithMessagef(err, "revive %s.%s failed", typ, name)
		}
		m.Data[name] = revived
	}

	return m, nil
}

func reviveValue(reg *Registry, p Property, v any) (any, error) {
	switch prop := p.(type) {
	case *Scalar:
		switch prop.ScalarKind {
		case KindInt:
			if i, ok := asInt64(v); ok {
				return i, nil
			}
		case KindFloat:
			switch f := v.(type) {
			case float64:
				return f, nil
			case int:
				return float64(f), nil
			case int64:
				return float64(f), nil
			}
		}
		return v, nil

	case *Ref:
		switch child := v.(type) {
		case map[string]any:
			return Revive(reg, prop.Model, child)
		case *Model:
			return child, nil
		case float64:
			return int64(child), nil
		case int:
			return int64(child), nil
		}
		return v, nil

	case *List:
		items, ok := v.([]any)
		if !ok {
			if models, isModels := v.([]*Model); isModels {
				out := make([]any, len(models))
				for i, m := range models {
					out[i] = m
				}
				return out, nil
			}
			return v, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			switch child := item.(type) {
			case map[string]any:
				m, err := Revive(reg, prop.Model, child)
				if err != nil {
					return nil, err
				}
				out[i] = m
			case float64:
				out[i] = int64(child)
			case int:
				out[i] = int64(child)
			default:
				out[i] = item
			}
		}
		return out, nil
	}

	return v, nil
}
