package store

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/uid"
)

// docCodec 文档型存储共用的拆解复原逻辑：集合属性内联为 id 列表，
// 引用属性退化为 id，无身份的内嵌值保持结构原样
type docCodec struct {
	reg *record.Registry
	gen uid.StrGenerator
}

func newDocCodec(reg *record.Registry) *docCodec {
	return &docCodec{reg: reg, gen: uid.NewUUIDGeneratorWithOptions(nil)}
}

// save 级联写入回调：持久化子模型并返回其 id
type docSave func(desc *record.Descriptor, m *record.Model) (any, error)

// docFetch 按主键读一行，缺失返回 nil
type docFetch func(desc *record.Descriptor, id any) (map[string]any, error)

// docMatch 反向关联回调：取匹配列等于 parentID 的全部子行
type docMatch func(desc *record.Descriptor, matchKey string, parentID any) ([]map[string]any, error)

// split 校验并拆解为扁平行。空值一律不落键，缺失即空，
// 这样 toml 这类表达不了 null 的格式也能存
func (c *docCodec) split(desc *record.Descriptor, m *record.Model, save docSave) (map[string]any, error) {
	if err := desc.Check(m); err != nil {
		return nil, err
	}
	if desc.PrimaryKey == "" {
		return nil, errors.Errorf("type %s has no primary key", desc.Type)
	}
	if m.ID(desc) == nil {
		if _, ok := desc.Primary().(*record.Text); !ok {
			return nil, errors.Errorf("type %s: non-text primary key must be provided", desc.Type)
		}
		m.Data[desc.PrimaryKey] = c.gen.Generate()
	}
	parentID := m.ID(desc)

	row := map[string]any{}
	for _, p := range desc.Properties {
		spec := p.Spec()
		v := m.Data[spec.Name]

		switch prop := p.(type) {
		case *record.Func:
			continue

		case *record.Ref:
			if v == nil {
				continue
			}
			child, err := c.reg.Get(prop.Model)
			if err != nil {
				return nil, err
			}
			if child.PrimaryKey == "" {
				row[spec.Name] = plain(v)
				continue
			}
			if cm, ok := v.(*record.Model); ok {
				id, err := save(child, cm)
				if err != nil {
					return nil, err
				}
				row[spec.Name] = id
				continue
			}
			row[spec.Name] = v

		case *record.List:
			child, err := c.reg.Get(prop.Model)
			if err != nil {
				return nil, err
			}

			if prop.MatchKey != "" {
				items, _ := v.([]any)
				for _, item := range items {
					cm, ok := item.(*record.Model)
					if !ok {
						continue
					}
					cm.Data[prop.MatchKey] = parentID
					if _, err := save(child, cm); err != nil {
						return nil, err
					}
				}
				continue
			}

			if v == nil {
				continue
			}
			if child.PrimaryKey == "" {
				row[spec.Name] = plain(v)
				continue
			}

			items, ok := v.([]any)
			if !ok {
				continue
			}
			ids := make([]any, 0, len(items))
			for _, item := range items {
				if cm, isModel := item.(*record.Model); isModel {
					id, err := save(child, cm)
					if err != nil {
						return nil, err
					}
					ids = append(ids, id)
					continue
				}
				ids = append(ids, item)
			}
			row[spec.Name] = ids

		case *record.Scalar, *record.Text, *record.Raw:
			if v == nil {
				continue
			}
			row[spec.Name] = plain(v)
		}
	}

	return row, nil
}

// join 扁平行复原为模型，引用沿 fetch 展开，环上的类型保留 id
func (c *docCodec) join(desc *record.Descriptor, row map[string]any, fetch docFetch, match docMatch, visited map[string]bool) (*record.Model, error) {
	m := record.NewModel(desc.Type)

	for _, p := range desc.Properties {
		spec := p.Spec()

		if prop, ok := p.(*record.List); ok && prop.MatchKey != "" {
			child, err := c.reg.Get(prop.Model)
			if err != nil {
				return nil, err
			}
			id := row[desc.PrimaryKey]
			if id == nil || visited[child.Type] {
				continue
			}
			childRows, err := match(child, prop.MatchKey, id)
			if err != nil {
				return nil, err
			}
			visited[child.Type] = true
			group := make([]any, 0, len(childRows))
			for _, childRow := range childRows {
				cm, err := c.join(child, childRow, fetch, match, visited)
				if err != nil {
					delete(visited, child.Type)
					return nil, err
				}
				group = append(group, cm)
			}
			delete(visited, child.Type)
			m.Data[spec.Name] = group
			continue
		}

		v, ok := row[spec.Name]
		if !ok || v == nil {
			continue
		}
		value, err := c.joinValue(p, v, fetch, match, visited)
		if err != nil {
			return nil, errors.WithMessagef(err, "decode %s.%s", desc.Type, spec.Name)
		}
		m.Data[spec.Name] = value
	}

	return m, nil
}

func (c *docCodec) joinValue(p record.Property, v any, fetch docFetch, match docMatch, visited map[string]bool) (any, error) {
	switch prop := p.(type) {
	case *record.Scalar:
		switch prop.ScalarKind {
		case record.KindInt:
			return toI64(v), nil
		case record.KindFloat:
			return toF64(v), nil
		}
		return v, nil

	case *record.Ref:
		child, err := c.reg.Get(prop.Model)
		if err != nil {
			return nil, err
		}
		if child.PrimaryKey == "" {
			if data, ok := v.(map[string]any); ok {
				return record.Revive(c.reg, child.Type, data)
			}
			return v, nil
		}
		if visited[child.Type] {
			return v, nil
		}
		childRow, err := fetch(child, v)
		if err != nil {
			return nil, err
		}
		if childRow == nil {
			// 悬空引用保留 id
			return v, nil
		}
		visited[child.Type] = true
		cm, err := c.join(child, childRow, fetch, match, visited)
		delete(visited, child.Type)
		return cm, err

	case *record.List:
		child, err := c.reg.Get(prop.Model)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return v, nil
		}
		if child.PrimaryKey == "" {
			out := make([]any, len(items))
			for i, item := range items {
				if data, isMap := item.(map[string]any); isMap {
					cm, err := record.Revive(c.reg, child.Type, data)
					if err != nil {
						return nil, err
					}
					out[i] = cm
					continue
				}
				out[i] = item
			}
			return out, nil
		}
		if visited[child.Type] {
			return items, nil
		}
		visited[child.Type] = true
		out := make([]any, 0, len(items))
		for _, id := range items {
			childRow, err := fetch(child, id)
			if err != nil {
				delete(visited, child.Type)
				return nil, err
			}
			if childRow == nil {
				out = append(out, id)
				continue
			}
			cm, err := c.join(child, childRow, fetch, match, visited)
			if err != nil {
				delete(visited, child.Type)
				return nil, err
			}
			out = append(out, cm)
		}
		delete(visited, child.Type)
		return out, nil
	}

	return v, nil
}
