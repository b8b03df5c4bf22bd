package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/log"
	"github.com/hatlonely/recx/record"
)

type BuildOptions struct {
	// RenameColumns 是否把同类型的删列建列对当作重命名处理
	RenameColumns bool
}

type BuildOption func(*BuildOptions)

func WithRenameColumns() BuildOption {
	return func(o *BuildOptions) {
		o.RenameColumns = true
	}
}

// Synchronizer 把已注册模型描述同步到数据库结构，幂等，重复执行收敛到零变更
type Synchronizer struct {
	conn      *driver.Conn
	reg       *record.Registry
	inspector *Inspector
	logger    log.Logger
}

func NewSynchronizer(conn *driver.Conn, reg *record.Registry) *Synchronizer {
	return &Synchronizer{
		conn:      conn,
		reg:       reg,
		inspector: NewInspector(conn),
		logger:    log.Default().WithGroup("schema").With("driver", conn.Driver()),
	}
}

// Build 同步给定类型及其内嵌闭包对应的表结构，返回执行的 DDL 条数。
// 三趟执行：先删除过期外键，再建表改列调索引，最后补建外键，
// 避免中间状态违反引用约束
func (s *Synchronizer) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	options := &BuildOptions{}
	for _, opt := range opts {
		opt(options)
	}

	order, err := Closure(s.reg, types)
	if err != nil {
		return 0, err
	}

	targets, err := s.deriveTargets(order)
	if err != nil {
		return 0, err
	}

	sqlite := s.conn.Driver() == "sqlite3"
	count := 0
	exists := map[string]bool{}
	actuals := map[string]*TableDef{}
	fkCreates := map[string][]ForeignKeyDef{}

	// 第一趟：删除目标中不再存在或定义已变的外键
	for _, t := range targets {
		ok, err := s.inspector.TableExists(ctx, t.Name)
		if err != nil {
			return count, err
		}
		exists[t.Name] = ok
		if !ok {
			if !sqlite {
				// sqlite 的外键随建表语句一起落地
				fkCreates[t.Name] = t.ForeignKeys
			}
			continue
		}

		actual, err := s.inspector.Inspect(ctx, t.Name)
		if err != nil {
			return count, err
		}
		actuals[t.Name] = actual

		diff := DiffForeignKeys(t, actual)
		if diff.Empty() {
			continue
		}
		if sqlite {
			s.logger.WarnContext(ctx, "sqlite cannot alter foreign keys on an existing table, skipped",
				"table", t.Name)
			continue
		}
		for _, name := range diff.Drop {
			if err := s.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", quote(t.Name), quote(name))); err != nil {
				return count, err
			}
			count++
		}
		fkCreates[t.Name] = diff.Create
	}

	// 第二趟：建表、改列、调索引
	for _, t := range targets {
		n, err := s.syncTable(ctx, t, exists[t.Name], actuals[t.Name], options)
		count += n
		if err != nil {
			return count, err
		}
	}

	// 第三趟：补建外键，此时所有被引用的表和列都已就位
	for _, t := range targets {
		for _, fk := range fkCreates[t.Name] {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
				quote(t.Name), quote(fk.Name), quote(fk.Column), quote(fk.RefTable), quote(fk.RefColumn), fk.OnUpdate, fk.OnDelete)
			if err := s.exec(ctx, stmt); err != nil {
				return count, err
			}
			count++
		}
	}

	return count, nil
}

// deriveTargets 模型表在前，关系表紧随属主之后
func (s *Synchronizer) deriveTargets(order []string) ([]*TableDef, error) {
	var targets []*TableDef
	for _, typ := range order {
		desc, err := s.reg.Get(typ)
		if err != nil {
			return nil, err
		}
		t, err := Derive(s.reg, desc)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)

		for _, p := range desc.Properties {
			list, ok := p.(*record.List)
			if !ok || list.MatchKey != "" || desc.PrimaryKey == "" {
				continue
			}
			child, err := s.reg.Get(list.Model)
			if err != nil {
				return nil, err
			}
			if child.PrimaryKey == "" {
				continue
			}
			rel, err := DeriveRelation(s.reg, desc, p.Spec().Name)
			if err != nil {
				return nil, err
			}
			targets = append(targets, rel)
		}
	}
	return targets, nil
}

func (s *Synchronizer) syncTable(ctx context.Context, t *TableDef, exists bool, actual *TableDef, options *BuildOptions) (int, error) {
	sqlite := s.conn.Driver() == "sqlite3"
	count := 0

	if !exists {
		if err := s.exec(ctx, s.createTableSQL(t)); err != nil {
			return count, err
		}
		count++
		for _, idx := range t.Indexes {
			if idx.Kind == IndexPrimary {
				continue
			}
			if err := s.exec(ctx, createIndexSQL(t.Name, &idx)); err != nil {
				return count, err
			}
			count++
		}
		return count, nil
	}

	colDiff := DiffColumns(s.conn.Driver(), t, actual, options.RenameColumns)
	idxDiff := DiffIndexes(t, actual)
	for _, pair := range colDiff.Ambiguous {
		s.logger.WarnContext(ctx, "possible column rename treated as drop and create",
			"table", t.Name, "from", pair.From, "to", pair.To.Name)
	}

	// 索引先删后建，夹在列变更两侧，避免索引引用缺失的列
	for _, idx := range idxDiff.Drop {
		stmt, ok := s.dropIndexSQL(ctx, t.Name, &idx)
		if !ok {
			continue
		}
		if err := s.exec(ctx, stmt); err != nil {
			return count, err
		}
		count++
	}

	for _, pair := range colDiff.Rename {
		var stmt string
		if sqlite {
			stmt = fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quote(t.Name), quote(pair.From), quote(pair.To.Name))
		} else {
			stmt = fmt.Sprintf("ALTER TABLE %s CHANGE %s %s", quote(t.Name), quote(pair.From), s.columnSQL(&pair.To))
		}
		if err := s.exec(ctx, stmt); err != nil {
			return count, err
		}
		count++
	}
	for _, col := range colDiff.Create {
		if err := s.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(t.Name), s.columnSQL(&col))); err != nil {
			return count, err
		}
		count++
	}
	for _, col := range colDiff.Alter {
		if sqlite {
			s.logger.WarnContext(ctx, "sqlite cannot modify a column in place, skipped",
				"table", t.Name, "column", col.Name)
			continue
		}
		if err := s.exec(ctx, fmt.Sprintf("ALTER TABLE %s MODIFY %s", quote(t.Name), s.columnSQL(&col))); err != nil {
			return count, err
		}
		count++
	}
	for _, name := range colDiff.Drop {
		if err := s.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(t.Name), quote(name))); err != nil {
			return count, err
		}
		count++
	}

	for _, idx := range idxDiff.Create {
		if idx.Kind == IndexPrimary {
			if sqlite {
				s.logger.WarnContext(ctx, "sqlite cannot change the primary key of an existing table, skipped",
					"table", t.Name)
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", quote(t.Name), quoteList(idx.Columns))
			if err := s.exec(ctx, stmt); err != nil {
				return count, err
			}
			count++
			continue
		}
		if err := s.exec(ctx, createIndexSQL(t.Name, &idx)); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (s *Synchronizer) dropIndexSQL(ctx context.Context, table string, idx *IndexDef) (string, bool) {
	sqlite := s.conn.Driver() == "sqlite3"
	if idx.Kind == IndexPrimary {
		if sqlite {
			s.logger.WarnContext(ctx, "sqlite cannot change the primary key of an existing table, skipped",
				"table", table)
			return "", false
		}
		return fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", quote(table)), true
	}
	if sqlite {
		return fmt.Sprintf("DROP INDEX %s", quote(idx.Name)), true
	}
	return fmt.Sprintf("DROP INDEX %s ON %s", quote(idx.Name), quote(table)), true
}

func (s *Synchronizer) createTableSQL(t *TableDef) string {
	var parts []string
	for i := range t.Columns {
		parts = append(parts, s.columnSQL(&t.Columns[i]))
	}
	for _, idx := range t.Indexes {
		if idx.Kind == IndexPrimary {
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(idx.Columns)))
		}
	}
	if s.conn.Driver() == "sqlite3" {
		for _, fk := range t.ForeignKeys {
			parts = append(parts, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
				quote(fk.Name), quote(fk.Column), quote(fk.RefTable), quote(fk.RefColumn), fk.OnUpdate, fk.OnDelete))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(t.Name), strings.Join(parts, ",\n  "))
}

func (s *Synchronizer) columnSQL(col *ColumnDef) string {
	var b strings.Builder
	b.WriteString(quote(col.Name))
	b.WriteString(" ")
	b.WriteString(columnTypeSQL(s.conn.Driver(), col))
	if col.Required {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(formatDefault(col.Default))
	}
	return b.String()
}

func createIndexSQL(table string, idx *IndexDef) string {
	unique := ""
	if idx.Kind == IndexUnique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quote(idx.Name), quote(table), quoteList(idx.Columns))
}

func (s *Synchronizer) exec(ctx context.Context, stmt string) error {
	if err := s.conn.ExecDDL(ctx, stmt); err != nil {
		return errors.WithMessagef(err, "ddl failed: %s", stmt)
	}
	return nil
}

// sqlite 同样接受反引号标识符，两种驱动共用一套渲染
func quote(name string) string {
	return "`" + name + "`"
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", ")
}
