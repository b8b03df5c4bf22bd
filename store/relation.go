package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/schema"
)

// relations 关系表登记处：集合属性首次出现时登记定义，后续复用。
// 定义是描述的纯函数，登记只是避免重复推导
type relations struct {
	reg    *record.Registry
	tables map[string]*schema.TableDef
}

func newRelations(reg *record.Registry) *relations {
	return &relations{reg: reg, tables: map[string]*schema.TableDef{}}
}

func (r *relations) Ensure(parent *record.Descriptor, property string) (*schema.TableDef, error) {
	name := schema.RelationTableName(parent.Type, property)
	if table, ok := r.tables[name]; ok {
		return table, nil
	}
	table, err := schema.DeriveRelation(r.reg, parent, property)
	if err != nil {
		return nil, err
	}
	r.tables[name] = table
	return table, nil
}

// Update 把关系表中该父记录的行集对齐到目标 id 集：
// 只删多出的行，只插缺失的行，未变的行不动
func (r *relations) Update(ctx context.Context, ex driver.Executor, table string, parentID any, ids []any) error {
	rows, err := ex.Query(ctx, fmt.Sprintf("SELECT `child_id` FROM `%s` WHERE `parent_id` = ?", table), parentID)
	if err != nil {
		return err
	}
	stored, err := driver.ScanMaps(rows)
	if err != nil {
		return err
	}

	current := map[string]any{}
	for _, row := range stored {
		current[idKey(row["child_id"])] = row["child_id"]
	}
	target := map[string]any{}
	for _, id := range ids {
		target[idKey(id)] = id
	}

	var removed []any
	for key, id := range current {
		if _, ok := target[key]; !ok {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		args := append([]any{parentID}, removed...)
		stmt := fmt.Sprintf("DELETE FROM `%s` WHERE `parent_id` = ? AND `child_id` IN (%s)",
			table, placeholders(len(removed)))
		if _, err := ex.Exec(ctx, stmt, args...); err != nil {
			return err
		}
	}

	// 按传入顺序插入缺失的行
	insert := driver.InsertIgnoreSQL(ex.Driver(), table, []string{"parent_id", "child_id"})
	for _, id := range ids {
		if _, ok := current[idKey(id)]; ok {
			continue
		}
		if _, err := ex.Exec(ctx, insert, parentID, id); err != nil {
			return err
		}
	}

	return nil
}

// DeleteParent 删除该父记录在关系表中的全部行
func (r *relations) DeleteParent(ctx context.Context, ex driver.Executor, table string, parentID any) error {
	_, err := ex.Exec(ctx, fmt.Sprintf("DELETE FROM `%s` WHERE `parent_id` = ?", table), parentID)
	return err
}

// idKey 主键值的规范字符串形式，跨 int64/string 比较一致
func idKey(id any) string {
	return fmt.Sprintf("%v", id)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// listTargets 校验集合属性的元素都已带主键，返回 id 列表
func listTargets(child *record.Descriptor, items []any) ([]any, error) {
	ids := make([]any, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case *record.Model:
			id := v.ID(child)
			if id == nil {
				return nil, errors.Errorf("child %s has no id after cascade", child.Type)
			}
			ids = append(ids, id)
		default:
			ids = append(ids, v)
		}
	}
	return ids, nil
}
