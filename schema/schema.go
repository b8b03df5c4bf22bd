package schema

import (
	"fmt"
	"strings"
)

// ColumnType 与驱动无关的列类型，渲染为具体 SQL 类型由驱动决定
type ColumnType string

const (
	ColumnBool     ColumnType = "bool"
	ColumnInt      ColumnType = "int"
	ColumnFloat    ColumnType = "float"
	ColumnVarchar  ColumnType = "varchar"
	ColumnText     ColumnType = "text"
	ColumnDateTime ColumnType = "datetime"
	ColumnDate     ColumnType = "date"
	ColumnTime     ColumnType = "time"
)

type ColumnDef struct {
	Name     string
	Type     ColumnType
	Size     int
	Required bool
	Default  any
}

type IndexKind string

const (
	IndexPrimary IndexKind = "primary"
	IndexUnique  IndexKind = "unique"
	IndexPlain   IndexKind = "index"
)

// PrimaryIndexName 主键索引的固定名字
const PrimaryIndexName = "PRIMARY"

type IndexDef struct {
	Name    string
	Kind    IndexKind
	Columns []string
}

type ForeignKeyDef struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
	OnUpdate  string
	OnDelete  string
}

// TableDef 一张表的完整定义，列有序，索引与外键按名字取用
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	Indexes     []IndexDef
	ForeignKeys []ForeignKeyDef
}

func (t *TableDef) Column(name string) *ColumnDef {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

func (t *TableDef) Index(name string) *IndexDef {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

func (t *TableDef) ForeignKey(name string) *ForeignKeyDef {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Name == name {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}

// columnTypeSQL 将列类型渲染为对应驱动的 SQL 类型
func columnTypeSQL(driver string, c *ColumnDef) string {
	if driver == "sqlite3" {
		switch c.Type {
		case ColumnBool, ColumnInt:
			return "INTEGER"
		case ColumnFloat:
			return "REAL"
		default:
			return "TEXT"
		}
	}

	switch c.Type {
	case ColumnBool:
		return "TINYINT"
	case ColumnInt:
		return "BIGINT"
	case ColumnFloat:
		return "DOUBLE"
	case ColumnVarchar:
		size := c.Size
		if size <= 0 {
			size = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", size)
	case ColumnText:
		return "TEXT"
	case ColumnDateTime:
		return "DATETIME"
	case ColumnDate:
		return "DATE"
	case ColumnTime:
		return "TIME"
	}
	return "TEXT"
}

// formatDefault 格式化 DDL 中的默认值
func formatDefault(value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// defaultForCompare 默认值的归一化比较形式
// mysql 和 sqlite 回读的默认值带引号形式不一致，统一去引号比较
func defaultForCompare(value any) string {
	if value == nil {
		return ""
	}
	s := fmt.Sprintf("%v", value)
	if b, ok := value.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, "'")
	return s
}

// columnEqual 列属性是否一致：渲染类型、非空约束、默认值
func columnEqual(driver string, a, b *ColumnDef) bool {
	if columnTypeSQL(driver, a) != columnTypeSQL(driver, b) {
		return false
	}
	if a.Required != b.Required {
		return false
	}
	return defaultForCompare(a.Default) == defaultForCompare(b.Default)
}

// indexEqual 索引的结构相等：类型一致且列序列一致
func indexEqual(a, b *IndexDef) bool {
	if a.Kind != b.Kind || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

// foreignKeyEqual 外键的结构相等
func foreignKeyEqual(a, b *ForeignKeyDef) bool {
	return a.Column == b.Column &&
		a.RefTable == b.RefTable &&
		a.RefColumn == b.RefColumn &&
		a.OnUpdate == b.OnUpdate &&
		a.OnDelete == b.OnDelete
}
