package schema

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/recx/record"
)

// Derive 从模型描述推导表定义：属性按声明顺序映射为列，
// 内嵌属性退化为子模型主键列或内联文本列，索引组聚合为联合索引
func Derive(reg *record.Registry, desc *record.Descriptor) (*TableDef, error) {
	table := &TableDef{Name: desc.Type}

	uniqueGroups := map[string][]string{}
	indexGroups := map[string][]string{}
	var uniqueOrder, indexOrder []string

	for _, p := range desc.Properties {
		spec := p.Spec()

		col, fk, err := deriveColumn(reg, desc, p)
		if err != nil {
			return nil, err
		}
		if col == nil {
			continue
		}
		if spec.Name == desc.PrimaryKey {
			col.Required = true
		}
		table.Columns = append(table.Columns, *col)
		if fk != nil {
			table.ForeignKeys = append(table.ForeignKeys, *fk)
			// sqlite 的索引名全库唯一，统一带上表名前缀
			table.Indexes = append(table.Indexes, IndexDef{
				Name:    "idx_" + desc.Type + "_" + spec.Name,
				Kind:    IndexPlain,
				Columns: []string{spec.Name},
			})
		}

		if spec.UniqueGroup != "" {
			if _, ok := uniqueGroups[spec.UniqueGroup]; !ok {
				uniqueOrder = append(uniqueOrder, spec.UniqueGroup)
			}
			uniqueGroups[spec.UniqueGroup] = append(uniqueGroups[spec.UniqueGroup], spec.Name)
		}
		if spec.IndexGroup != "" {
			if _, ok := indexGroups[spec.IndexGroup]; !ok {
				indexOrder = append(indexOrder, spec.IndexGroup)
			}
			indexGroups[spec.IndexGroup] = append(indexGroups[spec.IndexGroup], spec.Name)
		}
	}

	if desc.PrimaryKey != "" {
		table.Indexes = append(table.Indexes, IndexDef{
			Name:    PrimaryIndexName,
			Kind:    IndexPrimary,
			Columns: []string{desc.PrimaryKey},
		})
	}
	for _, group := range uniqueOrder {
		table.Indexes = append(table.Indexes, IndexDef{
			Name:    "uk_" + desc.Type + "_" + group,
			Kind:    IndexUnique,
			Columns: uniqueGroups[group],
		})
	}
	for _, group := range indexOrder {
		table.Indexes = append(table.Indexes, IndexDef{
			Name:    "idx_" + desc.Type + "_" + group,
			Kind:    IndexPlain,
			Columns: indexGroups[group],
		})
	}

	return table, nil
}

func deriveColumn(reg *record.Registry, desc *record.Descriptor, p record.Property) (*ColumnDef, *ForeignKeyDef, error) {
	spec := p.Spec()
	col := &ColumnDef{Name: spec.Name, Required: spec.Required, Default: spec.Default}

	switch prop := p.(type) {
	case *record.Scalar:
		switch prop.ScalarKind {
		case record.KindBool:
			col.Type = ColumnBool
		case record.KindInt:
			col.Type = ColumnInt
		case record.KindFloat:
			col.Type = ColumnFloat
		case record.KindDateTime:
			col.Type = ColumnDateTime
		case record.KindDate:
			col.Type = ColumnDate
		case record.KindTime:
			col.Type = ColumnTime
		default:
			// mixed 编码为文本存储
			col.Type = ColumnText
			col.Default = nil
		}
		return col, nil, nil

	case *record.Text:
		switch {
		case prop.TextKind == record.KindUUID:
			col.Type = ColumnVarchar
			col.Size = 36
		case prop.MaxLen > 1024:
			col.Type = ColumnText
		case prop.MaxLen > 0:
			col.Type = ColumnVarchar
			col.Size = prop.MaxLen
		default:
			col.Type = ColumnVarchar
			col.Size = 255
		}
		return col, nil, nil

	case *record.Ref:
		child, err := reg.Get(prop.Model)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "derive %s.%s", desc.Type, spec.Name)
		}
		if child.PrimaryKey == "" {
			// 子模型无主键，整体编码内联存储
			col.Type = ColumnText
			col.Default = nil
			return col, nil, nil
		}
		pkCol, _, err := deriveColumn(reg, child, child.Primary())
		if err != nil {
			return nil, nil, err
		}
		col.Type = pkCol.Type
		col.Size = pkCol.Size
		col.Default = nil

		onDelete := "SET NULL"
		if spec.Required {
			onDelete = "CASCADE"
		}
		fk := &ForeignKeyDef{
			Name:      "fk_" + desc.Type + "_" + spec.Name,
			Column:    spec.Name,
			RefTable:  child.Type,
			RefColumn: child.PrimaryKey,
			OnUpdate:  "CASCADE",
			OnDelete:  onDelete,
		}
		return col, fk, nil

	case *record.List:
		if prop.MatchKey != "" {
			// 反向关联，关系落在子模型一侧
			return nil, nil, nil
		}
		child, err := reg.Get(prop.Model)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "derive %s.%s", desc.Type, spec.Name)
		}
		if child.PrimaryKey == "" || desc.PrimaryKey == "" {
			// 任意一侧无主键都无法落关系表，整体编码内联存储
			col.Type = ColumnText
			col.Default = nil
			return col, nil, nil
		}
		// 双方都有主键时关系落在关系表，本表不产生列
		return nil, nil, nil

	case *record.Raw:
		col.Type = ColumnText
		col.Default = nil
		return col, nil, nil

	case *record.Func:
		return nil, nil, nil
	}

	return nil, nil, errors.Errorf("derive %s.%s: unknown property variant %T", desc.Type, spec.Name, p)
}

// RelationTableName 关系表命名：属主类型与属性名的组合，保证每个集合属性一张表
func RelationTableName(parentType, property string) string {
	return parentType + "_" + property
}

// DeriveRelation 推导集合属性的关系表：双端主键列各自索引，外键级联删除
func DeriveRelation(reg *record.Registry, parent *record.Descriptor, property string) (*TableDef, error) {
	p := parent.Property(property)
	list, ok := p.(*record.List)
	if !ok {
		return nil, errors.Errorf("derive relation %s.%s: not a list property", parent.Type, property)
	}
	if parent.PrimaryKey == "" {
		return nil, errors.Errorf("derive relation %s.%s: parent has no primary key", parent.Type, property)
	}
	child, err := reg.Get(list.Model)
	if err != nil {
		return nil, errors.WithMessagef(err, "derive relation %s.%s", parent.Type, property)
	}
	if child.PrimaryKey == "" {
		return nil, errors.Errorf("derive relation %s.%s: child has no primary key", parent.Type, property)
	}

	parentPk, _, err := deriveColumn(reg, parent, parent.Primary())
	if err != nil {
		return nil, err
	}
	childPk, _, err := deriveColumn(reg, child, child.Primary())
	if err != nil {
		return nil, err
	}

	name := RelationTableName(parent.Type, property)
	return &TableDef{
		Name: name,
		Columns: []ColumnDef{
			{Name: "parent_id", Type: parentPk.Type, Size: parentPk.Size, Required: true},
			{Name: "child_id", Type: childPk.Type, Size: childPk.Size, Required: true},
		},
		Indexes: []IndexDef{
			{Name: "uk_" + name + "_pair", Kind: IndexUnique, Columns: []string{"parent_id", "child_id"}},
			{Name: "idx_" + name + "_parent", Kind: IndexPlain, Columns: []string{"parent_id"}},
			{Name: "idx_" + name + "_child", Kind: IndexPlain, Columns: []string{"child_id"}},
		},
		ForeignKeys: []ForeignKeyDef{
			{
				// 外键统一按 fk_表名_列名 命名，sqlite 回读时按同样规则合成
				Name: "fk_" + name + "_parent_id", Column: "parent_id",
				RefTable: parent.Type, RefColumn: parent.PrimaryKey,
				OnUpdate: "CASCADE", OnDelete: "CASCADE",
			},
			{
				Name: "fk_" + name + "_child_id", Column: "child_id",
				RefTable: child.Type, RefColumn: child.PrimaryKey,
				OnUpdate: "CASCADE", OnDelete: "CASCADE",
			},
		},
	}, nil
}

// Closure 类型集合沿内嵌属性的传递闭包，保持输入顺序，新发现的类型追加在后
func Closure(reg *record.Registry, types []string) ([]string, error) {
	seen := map[string]bool{}
	var order []string

	queue := append([]string{}, types...)
	for len(queue) > 0 {
		typ := queue[0]
		queue = queue[1:]
		if seen[typ] {
			continue
		}
		desc, err := reg.Get(typ)
		if err != nil {
			return nil, err
		}
		seen[typ] = true
		order = append(order, typ)

		for _, p := range desc.Properties {
			switch prop := p.(type) {
			case *record.Ref:
				queue = append(queue, prop.Model)
			case *record.List:
				queue = append(queue, prop.Model)
			}
		}
	}

	return order, nil
}
