package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSQLiteType(t *testing.T) {
	tests := []struct {
		declared string
		expect   ColumnType
	}{
		{"INTEGER", ColumnInt},
		{"integer", ColumnInt},
		{"REAL", ColumnFloat},
		{"TEXT", ColumnText},
		{"BLOB", ColumnText},
		{"", ColumnText},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, parseSQLiteType(tt.declared), "declared=%q", tt.declared)
	}
}

func TestColumnTypeSQL(t *testing.T) {
	tests := []struct {
		driver string
		col    ColumnDef
		expect string
	}{
		{"mysql", ColumnDef{Type: ColumnBool}, "TINYINT"},
		{"mysql", ColumnDef{Type: ColumnInt}, "BIGINT"},
		{"mysql", ColumnDef{Type: ColumnFloat}, "DOUBLE"},
		{"mysql", ColumnDef{Type: ColumnVarchar, Size: 64}, "VARCHAR(64)"},
		{"mysql", ColumnDef{Type: ColumnVarchar}, "VARCHAR(255)"},
		{"mysql", ColumnDef{Type: ColumnText}, "TEXT"},
		{"mysql", ColumnDef{Type: ColumnDateTime}, "DATETIME"},
		{"mysql", ColumnDef{Type: ColumnDate}, "DATE"},
		{"mysql", ColumnDef{Type: ColumnTime}, "TIME"},
		// sqlite 只有 INTEGER/REAL/TEXT 三种亲和类型
		{"sqlite3", ColumnDef{Type: ColumnBool}, "INTEGER"},
		{"sqlite3", ColumnDef{Type: ColumnInt}, "INTEGER"},
		{"sqlite3", ColumnDef{Type: ColumnFloat}, "REAL"},
		{"sqlite3", ColumnDef{Type: ColumnVarchar, Size: 64}, "TEXT"},
		{"sqlite3", ColumnDef{Type: ColumnDateTime}, "TEXT"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, columnTypeSQL(tt.driver, &tt.col), "driver=%s type=%v", tt.driver, tt.col.Type)
	}
}

func TestFormatDefault(t *testing.T) {
	assert.Equal(t, "'Asylum'", formatDefault("Asylum"))
	assert.Equal(t, "'it''s'", formatDefault("it's"))
	assert.Equal(t, "1", formatDefault(true))
	assert.Equal(t, "0", formatDefault(false))
}

func TestAsHelpers(t *testing.T) {
	assert.Equal(t, "name", asString("name"))
	assert.Equal(t, "", asString(nil))
	assert.Equal(t, "42", asString(int64(42)))
	assert.Equal(t, 42, asInt(int64(42)))
	assert.Equal(t, 42, asInt("42"))
	assert.Equal(t, 0, asInt(nil))
}
