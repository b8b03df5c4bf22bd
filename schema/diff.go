package schema

// ColumnRename 一对被判定为重命名的列：旧名到新定义
type ColumnRename struct {
	From string
	To   ColumnDef
}

type ColumnDiff struct {
	Create []ColumnDef
	Drop   []string
	Alter  []ColumnDef
	Rename []ColumnRename

	// Ambiguous 重命名未启用时，类型恰好成对的删列建列组合，调用方据此告警
	Ambiguous []ColumnRename
}

func (d *ColumnDiff) Empty() bool {
	return len(d.Create) == 0 && len(d.Drop) == 0 && len(d.Alter) == 0 && len(d.Rename) == 0
}

// DiffColumns 目标列与实际列的差异。目标有实际无则建列，实际有目标无则删列，
// 两边都有但属性不一致则改列。renames 开启时，同一渲染类型的删建对按序配成重命名
func DiffColumns(driverName string, target, actual *TableDef, renames bool) *ColumnDiff {
	diff := &ColumnDiff{}

	for _, col := range target.Columns {
		if old := actual.Column(col.Name); old == nil {
			diff.Create = append(diff.Create, col)
		} else if !columnEqual(driverName, &col, old) {
			diff.Alter = append(diff.Alter, col)
		}
	}
	for _, col := range actual.Columns {
		if target.Column(col.Name) == nil {
			diff.Drop = append(diff.Drop, col.Name)
		}
	}

	// 贪心配对：每个新建列找第一个渲染类型相同的待删列
	var creates []ColumnDef
	for _, col := range diff.Create {
		matched := -1
		for i, name := range diff.Drop {
			old := actual.Column(name)
			if old != nil && columnTypeSQL(driverName, &col) == columnTypeSQL(driverName, old) {
				matched = i
				break
			}
		}
		if matched < 0 {
			creates = append(creates, col)
			continue
		}
		pair := ColumnRename{From: diff.Drop[matched], To: col}
		if renames {
			diff.Rename = append(diff.Rename, pair)
			diff.Drop = append(diff.Drop[:matched], diff.Drop[matched+1:]...)
		} else {
			diff.Ambiguous = append(diff.Ambiguous, pair)
			creates = append(creates, col)
		}
	}
	diff.Create = creates

	return diff
}

type IndexDiff struct {
	Create []IndexDef
	Drop   []IndexDef
}

func (d *IndexDiff) Empty() bool {
	return len(d.Create) == 0 && len(d.Drop) == 0
}

// DiffIndexes 索引差异。定义不一致的索引在稳定名字下先删后建
func DiffIndexes(target, actual *TableDef) *IndexDiff {
	diff := &IndexDiff{}

	for _, idx := range target.Indexes {
		old := actual.Index(idx.Name)
		if old == nil {
			diff.Create = append(diff.Create, idx)
		} else if !indexEqual(&idx, old) {
			diff.Drop = append(diff.Drop, *old)
			diff.Create = append(diff.Create, idx)
		}
	}
	for _, idx := range actual.Indexes {
		if target.Index(idx.Name) == nil {
			diff.Drop = append(diff.Drop, idx)
		}
	}

	return diff
}

type ForeignKeyDiff struct {
	Create []ForeignKeyDef
	Drop   []string
}

func (d *ForeignKeyDiff) Empty() bool {
	return len(d.Create) == 0 && len(d.Drop) == 0
}

// DiffForeignKeys 外键差异，按名字对齐，定义变化等价于先删后建
func DiffForeignKeys(target, actual *TableDef) *ForeignKeyDiff {
	diff := &ForeignKeyDiff{}

	for _, fk := range target.ForeignKeys {
		old := actual.ForeignKey(fk.Name)
		if old == nil {
			diff.Create = append(diff.Create, fk)
		} else if !foreignKeyEqual(&fk, old) {
			diff.Drop = append(diff.Drop, fk.Name)
			diff.Create = append(diff.Create, fk)
		}
	}
	for _, fk := range actual.ForeignKeys {
		if target.ForeignKey(fk.Name) == nil {
			diff.Drop = append(diff.Drop, fk.Name)
		}
	}

	return diff
}
