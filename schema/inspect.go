package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/driver"
)

// Inspector 读取数据库中表的实际结构，归一化为 TableDef 供差异计算
type Inspector struct {
	conn *driver.Conn
}

func NewInspector(conn *driver.Conn) *Inspector {
	return &Inspector{conn: conn}
}

func (i *Inspector) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch i.conn.Driver() {
	case "mysql":
		query = "SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	case "sqlite3":
		query = "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		return false, errors.Errorf("unsupported driver: %s", i.conn.Driver())
	}

	rows, err := i.conn.Query(ctx, query, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// Inspect 返回表的实际定义，表不存在时列集合为空
func (i *Inspector) Inspect(ctx context.Context, table string) (*TableDef, error) {
	switch i.conn.Driver() {
	case "mysql":
		return i.inspectMySQL(ctx, table)
	case "sqlite3":
		return i.inspectSQLite(ctx, table)
	}
	return nil, errors.Errorf("unsupported driver: %s", i.conn.Driver())
}

func (i *Inspector) inspectMySQL(ctx context.Context, table string) (*TableDef, error) {
	def := &TableDef{Name: table}

	rows, err := i.conn.Query(ctx, `
SELECT column_name, column_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	cols, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	for _, row := range cols {
		typ, size := parseMySQLType(asString(row["column_type"]))
		col := ColumnDef{
			Name:     asString(row["column_name"]),
			Type:     typ,
			Size:     size,
			Required: asString(row["is_nullable"]) == "NO",
		}
		if row["column_default"] != nil {
			col.Default = asString(row["column_default"])
		}
		def.Columns = append(def.Columns, col)
	}

	rows, err = i.conn.Query(ctx, `
SELECT index_name, non_unique, column_name
FROM information_schema.statistics
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY index_name, seq_in_index`, table)
	if err != nil {
		return nil, err
	}
	stats, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	for _, row := range stats {
		name := asString(row["index_name"])
		idx := def.Index(name)
		if idx == nil {
			kind := IndexPlain
			switch {
			case name == PrimaryIndexName:
				kind = IndexPrimary
			case asInt(row["non_unique"]) == 0:
				kind = IndexUnique
			}
			def.Indexes = append(def.Indexes, IndexDef{Name: name, Kind: kind})
			idx = &def.Indexes[len(def.Indexes)-1]
		}
		idx.Columns = append(idx.Columns, asString(row["column_name"]))
	}

	rows, err = i.conn.Query(ctx, `
SELECT kcu.constraint_name, kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name,
       rc.update_rule, rc.delete_rule
FROM information_schema.key_column_usage kcu
JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = kcu.constraint_schema AND rc.constraint_name = kcu.constraint_name
WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ? AND kcu.referenced_table_name IS NOT NULL
ORDER BY kcu.constraint_name`, table)
	if err != nil {
		return nil, err
	}
	fks, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	for _, row := range fks {
		def.ForeignKeys = append(def.ForeignKeys, ForeignKeyDef{
			Name:      asString(row["constraint_name"]),
			Column:    asString(row["column_name"]),
			RefTable:  asString(row["referenced_table_name"]),
			RefColumn: asString(row["referenced_column_name"]),
			OnUpdate:  asString(row["update_rule"]),
			OnDelete:  asString(row["delete_rule"]),
		})
	}

	return def, nil
}

func (i *Inspector) inspectSQLite(ctx context.Context, table string) (*TableDef, error) {
	def := &TableDef{Name: table}

	rows, err := i.conn.Query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	cols, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}

	// pk 字段给出主键内的序号，0 表示不是主键列
	pkCols := map[int]string{}
	for _, row := range cols {
		col := ColumnDef{
			Name:     asString(row["name"]),
			Type:     parseSQLiteType(asString(row["type"])),
			Required: asInt(row["notnull"]) != 0,
		}
		if row["dflt_value"] != nil {
			col.Default = asString(row["dflt_value"])
		}
		def.Columns = append(def.Columns, col)
		if seq := asInt(row["pk"]); seq > 0 {
			pkCols[seq] = col.Name
		}
	}
	if len(pkCols) > 0 {
		idx := IndexDef{Name: PrimaryIndexName, Kind: IndexPrimary}
		seqs := make([]int, 0, len(pkCols))
		for seq := range pkCols {
			seqs = append(seqs, seq)
		}
		sort.Ints(seqs)
		for _, seq := range seqs {
			idx.Columns = append(idx.Columns, pkCols[seq])
		}
		def.Indexes = append(def.Indexes, idx)
	}

	rows, err = i.conn.Query(ctx, fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, err
	}
	list, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	for _, row := range list {
		// 只取显式创建的索引，自动索引由主键和唯一约束产生
		if asString(row["origin"]) != "c" {
			continue
		}
		name := asString(row["name"])
		kind := IndexPlain
		if asInt(row["unique"]) != 0 {
			kind = IndexUnique
		}
		idx := IndexDef{Name: name, Kind: kind}

		infoRows, err := i.conn.Query(ctx, fmt.Sprintf("PRAGMA index_info(%q)", name))
		if err != nil {
			return nil, err
		}
		info, err := driver.ScanMaps(infoRows)
		if err != nil {
			return nil, err
		}
		for _, infoRow := range info {
			idx.Columns = append(idx.Columns, asString(infoRow["name"]))
		}
		def.Indexes = append(def.Indexes, idx)
	}

	rows, err = i.conn.Query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, err
	}
	fks, err := driver.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	for _, row := range fks {
		// sqlite 不保存外键约束名，用列名合成一个稳定名字
		def.ForeignKeys = append(def.ForeignKeys, ForeignKeyDef{
			Name:      "fk_" + table + "_" + asString(row["from"]),
			Column:    asString(row["from"]),
			RefTable:  asString(row["table"]),
			RefColumn: asString(row["to"]),
			OnUpdate:  asString(row["on_update"]),
			OnDelete:  asString(row["on_delete"]),
		})
	}

	return def, nil
}

// parseMySQLType 把 information_schema 的 column_type 还原为归一化列类型
func parseMySQLType(columnType string) (ColumnType, int) {
	t := strings.ToLower(columnType)
	switch {
	case strings.HasPrefix(t, "tinyint"):
		return ColumnBool, 0
	case strings.HasPrefix(t, "bigint"), strings.HasPrefix(t, "int"),
		strings.HasPrefix(t, "smallint"), strings.HasPrefix(t, "mediumint"):
		return ColumnInt, 0
	case strings.HasPrefix(t, "double"), strings.HasPrefix(t, "float"), strings.HasPrefix(t, "decimal"):
		return ColumnFloat, 0
	case strings.HasPrefix(t, "varchar"), strings.HasPrefix(t, "char"):
		size := 255
		if open := strings.Index(t, "("); open >= 0 {
			if end := strings.Index(t, ")"); end > open {
				if n, err := strconv.Atoi(t[open+1 : end]); err == nil {
					size = n
				}
			}
		}
		return ColumnVarchar, size
	case strings.HasPrefix(t, "datetime"), strings.HasPrefix(t, "timestamp"):
		return ColumnDateTime, 0
	case strings.HasPrefix(t, "date"):
		return ColumnDate, 0
	case strings.HasPrefix(t, "time"):
		return ColumnTime, 0
	}
	return ColumnText, 0
}

func parseSQLiteType(declared string) ColumnType {
	switch strings.ToUpper(declared) {
	case "INTEGER":
		return ColumnInt
	case "REAL":
		return ColumnFloat
	}
	return ColumnText
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	switch i := v.(type) {
	case int64:
		return int(i)
	case int:
		return i
	case string:
		n, _ := strconv.Atoi(i)
		return n
	}
	return 0
}
