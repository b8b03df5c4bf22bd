package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/log"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/schema"
	"github.com/hatlonely/recx/serializer"
	"github.com/hatlonely/recx/uid"
)

// SQLStore 关系型存储：模型图拆解为行和关系表记录，读出时批量复原。
// 一个实例独占一条连接和一张预编译语句表
type SQLStore struct {
	reg       *record.Registry
	conn      *driver.Conn
	sync      *schema.Synchronizer
	relations *relations
	raw       serializer.Serializer[any, []byte]
	gen       uid.StrGenerator
	logger    log.Logger
}

func NewSQLStoreWithOptions(reg *record.Registry, options *driver.Options) (*SQLStore, error) {
	conn, err := driver.NewConnWithOptions(options)
	if err != nil {
		return nil, err
	}

	raw, err := serializer.NewByteSerializerWithName[any]("json")
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &SQLStore{
		reg:       reg,
		conn:      conn,
		sync:      schema.NewSynchronizer(conn, reg),
		relations: newRelations(reg),
		raw:       raw,
		gen:       uid.NewUUIDGeneratorWithOptions(nil),
		logger:    log.Default().WithGroup("store").With("store", "sql"),
	}, nil
}

func (s *SQLStore) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	return s.sync.Build(ctx, types, opts...)
}

func (s *SQLStore) Exists(ctx context.Context, typ string, id any) (bool, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return false, err
	}
	if desc.PrimaryKey == "" {
		return false, errors.Errorf("type %s has no primary key", typ)
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT 1 FROM `%s` WHERE `%s` = ? LIMIT 1", desc.Type, desc.PrimaryKey), id)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, typ string, id any) (*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}
	if desc.PrimaryKey == "" {
		return nil, errors.Errorf("type %s has no primary key", typ)
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT * FROM `%s` WHERE `%s` = ?", desc.Type, desc.PrimaryKey), id)
	if err != nil {
		return nil, err
	}
	raws, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	models, err := s.restore(ctx, desc, raws[:1])
	if err != nil {
		return nil, err
	}
	return models[0], nil
}

func (s *SQLStore) List(ctx context.Context, typ string, ids []any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM `%s`", desc.Type)
	var args []any
	if len(ids) > 0 {
		if desc.PrimaryKey == "" {
			return nil, errors.Errorf("type %s has no primary key", typ)
		}
		query += fmt.Sprintf(" WHERE `%s` IN (%s)", desc.PrimaryKey, placeholders(len(ids)))
		args = ids
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	raws, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	return s.restore(ctx, desc, raws)
}

func (s *SQLStore) Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	where, args := buildWhere(cond)
	query := fmt.Sprintf("SELECT * FROM `%s`", desc.Type)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	raws, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	return s.restore(ctx, desc, raws)
}

// buildWhere 谓词拼装，键排序保证同一条件生成同一语句，命中语句缓存
func buildWhere(cond map[string]any) (string, []any) {
	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var args []any
	for _, k := range keys {
		switch v := cond[k].(type) {
		case Range:
			parts = append(parts, fmt.Sprintf("`%s` BETWEEN ? AND ?", k))
			args = append(args, predicateValue(v.From), predicateValue(v.To))
		case []any:
			parts = append(parts, fmt.Sprintf("`%s` IN (%s)", k, placeholders(len(v))))
			for _, item := range v {
				args = append(args, predicateValue(item))
			}
		default:
			parts = append(parts, fmt.Sprintf("`%s` = ?", k))
			args = append(args, predicateValue(v))
		}
	}
	return strings.Join(parts, " AND "), args
}

func predicateValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func (s *SQLStore) Set(ctx context.Context, m *record.Model) (*record.Model, error) {
	desc, err := s.reg.Get(m.Type)
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.setInTx(ctx, tx, desc, m); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

type pendingRelation struct {
	table string
	ids   []any
}

type pendingInverse struct {
	child    *record.Descriptor
	matchKey string
	items    []*record.Model
}

// setInTx 拆解模型图并写入：先级联写内嵌模型，再落本行，
// 最后对齐关系表和反向关联的子模型。全部发生在同一事务内
func (s *SQLStore) setInTx(ctx context.Context, ex driver.Executor, desc *record.Descriptor, m *record.Model) error {
	if err := desc.Check(m); err != nil {
		return err
	}
	if desc.PrimaryKey == "" {
		return errors.Errorf("type %s has no primary key", desc.Type)
	}
	if m.ID(desc) == nil {
		if _, ok := desc.Primary().(*record.Text); !ok {
			return errors.Errorf("type %s: non-text primary key must be provided", desc.Type)
		}
		m.Data[desc.PrimaryKey] = s.gen.Generate()
	}
	parentID := m.ID(desc)

	var columns []string
	var args []any
	var relationUpdates []pendingRelation
	var inverseUpdates []pendingInverse

	for _, p := range desc.Properties {
		spec := p.Spec()

		switch prop := p.(type) {
		case *record.Func:
			continue

		case *record.List:
			child, err := s.reg.Get(prop.Model)
			if err != nil {
				return err
			}

			if prop.MatchKey != "" {
				// 反向关联：关系落在子模型侧，子模型在本行写入后级联
				items, _ := m.Data[spec.Name].([]any)
				pending := pendingInverse{child: child, matchKey: prop.MatchKey}
				for _, item := range items {
					if cm, ok := item.(*record.Model); ok {
						pending.items = append(pending.items, cm)
					}
				}
				inverseUpdates = append(inverseUpdates, pending)
				continue
			}

			if child.PrimaryKey == "" {
				encoded, err := s.encodeColumn(m.Data[spec.Name])
				if err != nil {
					return errors.WithMessagef(err, "encode %s.%s", desc.Type, spec.Name)
				}
				columns = append(columns, spec.Name)
				args = append(args, encoded)
				continue
			}

			items, ok := m.Data[spec.Name].([]any)
			if !ok {
				// 集合缺席时不触碰已有关系
				continue
			}
			for _, item := range items {
				if cm, isModel := item.(*record.Model); isModel {
					if err := s.setInTx(ctx, ex, child, cm); err != nil {
						return err
					}
				}
			}
			ids, err := listTargets(child, items)
			if err != nil {
				return err
			}
			rel, err := s.relations.Ensure(desc, spec.Name)
			if err != nil {
				return err
			}
			relationUpdates = append(relationUpdates, pendingRelation{table: rel.Name, ids: ids})
			continue

		case *record.Ref:
			child, err := s.reg.Get(prop.Model)
			if err != nil {
				return err
			}

			v := m.Data[spec.Name]
			if v == nil {
				columns = append(columns, spec.Name)
				args = append(args, nil)
				continue
			}
			if child.PrimaryKey == "" {
				encoded, err := s.encodeColumn(v)
				if err != nil {
					return errors.WithMessagef(err, "encode %s.%s", desc.Type, spec.Name)
				}
				columns = append(columns, spec.Name)
				args = append(args, encoded)
				continue
			}
			if cm, isModel := v.(*record.Model); isModel {
				if err := s.setInTx(ctx, ex, child, cm); err != nil {
					return err
				}
				columns = append(columns, spec.Name)
				args = append(args, cm.ID(child))
				continue
			}
			columns = append(columns, spec.Name)
			args = append(args, v)
			continue
		}

		value, err := s.columnValue(p, m.Data[spec.Name])
		if err != nil {
			return errors.WithMessagef(err, "encode %s.%s", desc.Type, spec.Name)
		}
		columns = append(columns, spec.Name)
		args = append(args, value)
	}

	if _, err := ex.Exec(ctx, driver.UpsertSQL(ex.Driver(), desc.Type, columns, desc.PrimaryKey), args...); err != nil {
		return err
	}

	for _, pending := range relationUpdates {
		if err := s.relations.Update(ctx, ex, pending.table, parentID, pending.ids); err != nil {
			return err
		}
	}
	for _, pending := range inverseUpdates {
		for _, cm := range pending.items {
			cm.Data[pending.matchKey] = parentID
			if err := s.setInTx(ctx, ex, pending.child, cm); err != nil {
				return err
			}
		}
	}

	return nil
}

// columnValue 标量和文本属性的列值：布尔转 0/1，mixed 和 raw 编码为文本
func (s *SQLStore) columnValue(p record.Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch prop := p.(type) {
	case *record.Scalar:
		switch prop.ScalarKind {
		case record.KindBool:
			if v == true {
				return 1, nil
			}
			return 0, nil
		case record.KindMixed:
			return s.encodeColumn(v)
		}
		return v, nil
	case *record.Raw:
		return s.encodeColumn(v)
	}
	return v, nil
}

func (s *SQLStore) encodeColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := s.raw.Serialize(plain(v))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// plain 内嵌模型替换为数据 map，编码结果不携带类型包装
func plain(v any) any {
	switch val := v.(type) {
	case *record.Model:
		out := make(map[string]any, len(val.Data))
		for k, item := range val.Data {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	}
	return v
}

func (s *SQLStore) Delete(ctx context.Context, typ string, id any) (bool, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return false, err
	}
	if desc.PrimaryKey == "" {
		return false, errors.Errorf("type %s has no primary key", typ)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return false, err
	}

	deleted, err := s.deleteInTx(ctx, tx, desc, id)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *SQLStore) deleteInTx(ctx context.Context, ex driver.Executor, desc *record.Descriptor, id any) (bool, error) {
	// 先清关系表，外键未生效的库也能保持一致
	for _, p := range desc.Properties {
		list, ok := p.(*record.List)
		if !ok || list.MatchKey != "" {
			continue
		}
		child, err := s.reg.Get(list.Model)
		if err != nil {
			return false, err
		}
		if child.PrimaryKey == "" {
			continue
		}
		rel, err := s.relations.Ensure(desc, p.Spec().Name)
		if err != nil {
			return false, err
		}
		if err := s.relations.DeleteParent(ctx, ex, rel.Name, id); err != nil {
			return false, err
		}
	}

	result, err := ex.Exec(ctx, fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = ?", desc.Type, desc.PrimaryKey), id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Flush 关系型存储即时落盘，无事可做
func (s *SQLStore) Flush(ctx context.Context) error {
	return nil
}

func (s *SQLStore) Close() error {
	return s.conn.Close()
}
