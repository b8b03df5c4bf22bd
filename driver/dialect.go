package driver

import (
	"fmt"
	"strings"
)

// UpsertSQL 按驱动生成插入或更新语句，conflict 为主键列。
// mysql 使用 INSERT ... ON DUPLICATE KEY UPDATE；sqlite 使用
// ON CONFLICT DO UPDATE 而不是 INSERT OR REPLACE，后者以删除加重建实现，
// 会触发外键级联把关系表行一并删掉
func UpsertSQL(driver, table string, columns []string, conflict string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}

	if driver == "mysql" {
		updateParts := make([]string, len(columns))
		for i, col := range columns {
			updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			table,
			strings.Join(columns, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(updateParts, ", "))
	}

	var updateParts []string
	for _, col := range columns {
		if col == conflict {
			continue
		}
		updateParts = append(updateParts, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	action := "DO NOTHING"
	if len(updateParts) > 0 {
		action = "DO UPDATE SET " + strings.Join(updateParts, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		conflict,
		action)
}

// InsertIgnoreSQL 按驱动生成冲突即忽略的插入语句
func InsertIgnoreSQL(driver, table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}

	verb := "INSERT OR IGNORE"
	if driver == "mysql" {
		verb = "INSERT IGNORE"
	}
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb,
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "))
}
