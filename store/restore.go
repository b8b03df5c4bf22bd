package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/schema"
)

// restore 批量复原：行先逐列反解，再按属性分层补全内嵌模型。
// 每个关系表集合属性一条联表查询，每个对象属性一条 IN 查询，
// 再按子类型递归，查询条数只和属性数与嵌套深度有关，和行数无关
func (s *SQLStore) restore(ctx context.Context, desc *record.Descriptor, rows []map[string]any) ([]*record.Model, error) {
	return s.restoreRows(ctx, desc, rows, map[string]bool{desc.Type: true})
}

// visited 记录递归路径上的类型，环上的引用保留为 id，不再展开
func (s *SQLStore) restoreRows(ctx context.Context, desc *record.Descriptor, rows []map[string]any, visited map[string]bool) ([]*record.Model, error) {
	models := make([]*record.Model, len(rows))
	for i, row := range rows {
		m, err := s.joinRow(desc, row)
		if err != nil {
			return nil, err
		}
		models[i] = m
	}
	if len(models) == 0 || !desc.HasNested() {
		return models, nil
	}

	for _, p := range desc.Properties {
		switch prop := p.(type) {
		case *record.List:
			if err := s.attachList(ctx, desc, prop, models, visited); err != nil {
				return nil, err
			}
		case *record.Ref:
			if err := s.attachRef(ctx, desc, prop, models, visited); err != nil {
				return nil, err
			}
		}
	}

	return models, nil
}

// joinRow 单行反解：布尔还原、数字收敛、编码列解码，内嵌属性留待批量补全
func (s *SQLStore) joinRow(desc *record.Descriptor, row map[string]any) (*record.Model, error) {
	m := record.NewModel(desc.Type)

	for _, p := range desc.Properties {
		spec := p.Spec()
		v, ok := row[spec.Name]
		if !ok {
			continue
		}
		value, err := s.modelValue(p, v)
		if err != nil {
			return nil, errors.WithMessagef(err, "decode %s.%s", desc.Type, spec.Name)
		}
		m.Data[spec.Name] = value
	}

	return m, nil
}

func (s *SQLStore) modelValue(p record.Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch prop := p.(type) {
	case *record.Scalar:
		switch prop.ScalarKind {
		case record.KindBool:
			return toI64(v) != 0, nil
		case record.KindInt:
			return toI64(v), nil
		case record.KindFloat:
			return toF64(v), nil
		case record.KindDateTime:
			return timeString(v, record.DateTimeFormat), nil
		case record.KindDate:
			return timeString(v, record.DateFormat), nil
		case record.KindTime:
			return timeString(v, record.TimeFormat), nil
		case record.KindMixed:
			return s.decodeColumn(v)
		}
		return v, nil

	case *record.Raw:
		return s.decodeColumn(v)

	case *record.Ref:
		child, err := s.reg.Get(prop.Model)
		if err != nil {
			return nil, err
		}
		if child.PrimaryKey == "" {
			decoded, err := s.decodeColumn(v)
			if err != nil {
				return nil, err
			}
			data, ok := decoded.(map[string]any)
			if !ok {
				return decoded, nil
			}
			return record.Revive(s.reg, child.Type, data)
		}
		// 有身份的引用此处保留 id，批量补全阶段替换为子模型
		return v, nil

	case *record.List:
		child, err := s.reg.Get(prop.Model)
		if err != nil {
			return nil, err
		}
		if child.PrimaryKey != "" {
			return v, nil
		}
		decoded, err := s.decodeColumn(v)
		if err != nil {
			return nil, err
		}
		items, ok := decoded.([]any)
		if !ok {
			return decoded, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			if data, isMap := item.(map[string]any); isMap {
				cm, err := record.Revive(s.reg, child.Type, data)
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

	return v, nil
}

func (s *SQLStore) decodeColumn(v any) (any, error) {
	text, ok := v.(string)
	if !ok {
		return v, nil
	}
	return s.raw.Deserialize([]byte(text))
}

func (s *SQLStore) attachList(ctx context.Context, desc *record.Descriptor, prop *record.List, models []*record.Model, visited map[string]bool) error {
	child, err := s.reg.Get(prop.Model)
	if err != nil {
		return err
	}
	if child.PrimaryKey == "" {
		return nil
	}
	name := prop.Spec().Name

	parentIDs := make([]any, 0, len(models))
	for _, m := range models {
		if id := m.ID(desc); id != nil {
			parentIDs = append(parentIDs, id)
		}
	}
	if len(parentIDs) == 0 {
		return nil
	}

	var childRows []map[string]any
	var parentOf []string

	if prop.MatchKey != "" {
		// 反向关联：关系在子模型侧，按子模型的匹配列过滤
		query := fmt.Sprintf("SELECT * FROM `%s` WHERE `%s` IN (%s) ORDER BY `%s`, `%s`",
			child.Type, prop.MatchKey, placeholders(len(parentIDs)), prop.MatchKey, child.PrimaryKey)
		rows, err := s.conn.Query(ctx, query, parentIDs...)
		if err != nil {
			return err
		}
		childRows, err = driver.ScanMaps(rows)
		if err != nil {
			return err
		}
		for _, row := range childRows {
			parentOf = append(parentOf, idKey(row[prop.MatchKey]))
		}
	} else {
		if desc.PrimaryKey == "" {
			return nil
		}
		rel := schema.RelationTableName(desc.Type, name)
		query := fmt.Sprintf(
			"SELECT r.`parent_id` AS `__parent_id`, c.* FROM `%s` r JOIN `%s` c ON r.`child_id` = c.`%s` WHERE r.`parent_id` IN (%s) ORDER BY r.`parent_id`, c.`%s`",
			rel, child.Type, child.PrimaryKey, placeholders(len(parentIDs)), child.PrimaryKey)
		rows, err := s.conn.Query(ctx, query, parentIDs...)
		if err != nil {
			return err
		}
		childRows, err = driver.ScanMaps(rows)
		if err != nil {
			return err
		}
		for _, row := range childRows {
			parentOf = append(parentOf, idKey(row["__parent_id"]))
			delete(row, "__parent_id")
		}
	}

	var childModels []*record.Model
	if visited[child.Type] {
		// 环上的类型不再展开，集合元素退化为 id
		childModels = make([]*record.Model, len(childRows))
		for i, row := range childRows {
			cm, err := s.joinRow(child, row)
			if err != nil {
				return err
			}
			childModels[i] = cm
		}
	} else {
		visited[child.Type] = true
		childModels, err = s.restoreRows(ctx, child, childRows, visited)
		delete(visited, child.Type)
		if err != nil {
			return err
		}
	}

	groups := map[string][]any{}
	for i, cm := range childModels {
		key := parentOf[i]
		groups[key] = append(groups[key], cm)
	}

	for _, m := range models {
		id := m.ID(desc)
		if id == nil {
			continue
		}
		group := groups[idKey(id)]
		if group == nil {
			group = []any{}
		}
		m.Data[prop.Spec().Name] = group
	}

	return nil
}

func (s *SQLStore) attachRef(ctx context.Context, desc *record.Descriptor, prop *record.Ref, models []*record.Model, visited map[string]bool) error {
	child, err := s.reg.Get(prop.Model)
	if err != nil {
		return err
	}
	if child.PrimaryKey == "" || visited[child.Type] {
		// 无身份引用已内联，环上的引用保留 id
		return nil
	}
	name := prop.Spec().Name

	seen := map[string]bool{}
	var ids []any
	for _, m := range models {
		v := m.Data[name]
		if v == nil {
			continue
		}
		if _, isModel := v.(*record.Model); isModel {
			continue
		}
		if !seen[idKey(v)] {
			seen[idKey(v)] = true
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf("SELECT * FROM `%s` WHERE `%s` IN (%s)",
		child.Type, child.PrimaryKey, placeholders(len(ids)))
	rows, err := s.conn.Query(ctx, query, ids...)
	if err != nil {
		return err
	}
	childRows, err := driver.ScanMaps(rows)
	if err != nil {
		return err
	}

	visited[child.Type] = true
	childModels, err := s.restoreRows(ctx, child, childRows, visited)
	delete(visited, child.Type)
	if err != nil {
		return err
	}

	byID := make(map[string]*record.Model, len(childModels))
	for _, cm := range childModels {
		byID[idKey(cm.ID(child))] = cm
	}
	for _, m := range models {
		v := m.Data[name]
		if v == nil {
			continue
		}
		if cm, ok := byID[idKey(v)]; ok {
			m.Data[name] = cm
		}
	}

	return nil
}

func toI64(v any) int64 {
	switch i := v.(type) {
	case int64:
		return i
	case int:
		return int64(i)
	case int32:
		return int64(i)
	case float64:
		return int64(i)
	case string:
		n, _ := strconv.ParseInt(i, 10, 64)
		return n
	case bool:
		if i {
			return 1
		}
	}
	return 0
}

func toF64(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int64:
		return float64(f)
	case int:
		return float64(f)
	case string:
		n, _ := strconv.ParseFloat(f, 64)
		return n
	}
	return 0
}

// timeString mysql 开了 parseTime 会扫出 time.Time，统一还原为字符串
func timeString(v any, layout string) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(layout)
	}
	return v
}
