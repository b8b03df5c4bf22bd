package record

// Model 一个自描述的数据实例，属性值可以内嵌其他模型
type Model struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func NewModel(typ string) *Model {
	return &Model{Type: typ, Data: map[string]any{}}
}

func (m *Model) Get(name string) any {
	return m.Data[name]
}

// Set 设置属性值并返回自身，便于链式构造
func (m *Model) Set(name string, v any) *Model {
	m.Data[name] = v
	return m
}

// ID 返回主键值，无主键或未赋值时返回 nil
func (m *Model) ID(d *Descriptor) any {
	if d == nil || d.PrimaryKey == "" {
		return nil
	}
	return m.Data[d.PrimaryKey]
}

// Clone 深拷贝模型图，返回实例与原实例互不影响
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	clone := &Model{Type: m.Type, Data: make(map[string]any, len(m.Data))}
	for k, v := range m.Data {
		clone.Data[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *Model:
		return val.Clone()
	case []*Model:
		out := make([]*Model, len(val))
		for i, m := range val {
			out[i] = m.Clone()
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	}
	return v
}
