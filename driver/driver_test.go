package driver

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestConn(t *testing.T) *Conn {
	conn, err := NewConnWithOptions(&Options{
		Driver:   "sqlite3",
		Database: ":memory:",
		MaxConns: 1,
		MaxIdle:  1,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestConn(t *testing.T) {
	Convey("Conn", t, func() {
		ctx := context.Background()
		conn := newTestConn(t)
		defer conn.Close()

		So(conn.ExecDDL(ctx, "CREATE TABLE artist (id TEXT PRIMARY KEY, last_name TEXT NOT NULL)"), ShouldBeNil)

		Convey("Exec 和 Query 走预编译缓存", func() {
			_, err := conn.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a1", "Waits")
			So(err, ShouldBeNil)
			_, err = conn.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a2", "Cohen")
			So(err, ShouldBeNil)
			So(len(conn.stmts), ShouldEqual, 1)

			rows, err := conn.Query(ctx, "SELECT * FROM artist ORDER BY id")
			So(err, ShouldBeNil)
			result, err := ScanMaps(rows)
			So(err, ShouldBeNil)
			So(len(result), ShouldEqual, 2)
			So(result[0]["last_name"], ShouldEqual, "Waits")
		})

		Convey("约束冲突映射为 ErrConstraintViolation", func() {
			_, err := conn.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a1", "Waits")
			So(err, ShouldBeNil)
			_, err = conn.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a1", "Waits")
			So(errors.Is(err, ErrConstraintViolation), ShouldBeTrue)
		})

		Convey("DDL 清空预编译缓存", func() {
			_, err := conn.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a1", "Waits")
			So(err, ShouldBeNil)
			So(len(conn.stmts), ShouldEqual, 1)

			So(conn.ExecDDL(ctx, "ALTER TABLE artist ADD COLUMN first_name TEXT"), ShouldBeNil)
			So(len(conn.stmts), ShouldEqual, 0)
		})

		Convey("事务回滚不留痕", func() {
			tx, err := conn.Begin(ctx)
			So(err, ShouldBeNil)
			_, err = tx.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a9", "Reed")
			So(err, ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)

			rows, err := conn.Query(ctx, "SELECT * FROM artist WHERE id = ?", "a9")
			So(err, ShouldBeNil)
			result, err := ScanMaps(rows)
			So(err, ShouldBeNil)
			So(len(result), ShouldEqual, 0)
		})

		Convey("事务提交可见", func() {
			tx, err := conn.Begin(ctx)
			So(err, ShouldBeNil)
			_, err = tx.Exec(ctx, "INSERT INTO artist (id, last_name) VALUES (?, ?)", "a9", "Reed")
			So(err, ShouldBeNil)
			So(tx.Commit(), ShouldBeNil)

			rows, err := conn.Query(ctx, "SELECT * FROM artist WHERE id = ?", "a9")
			So(err, ShouldBeNil)
			result, err := ScanMaps(rows)
			So(err, ShouldBeNil)
			So(len(result), ShouldEqual, 1)
		})
	})
}

func TestUpsertSQL(t *testing.T) {
	Convey("UpsertSQL", t, func() {
		Convey("mysql 使用 ON DUPLICATE KEY UPDATE", func() {
			sql := UpsertSQL("mysql", "artist", []string{"id", "last_name"}, "id")
			So(sql, ShouldContainSubstring, "ON DUPLICATE KEY UPDATE")
			So(sql, ShouldContainSubstring, "last_name = VALUES(last_name)")
		})

		Convey("sqlite 使用 ON CONFLICT DO UPDATE", func() {
			sql := UpsertSQL("sqlite3", "artist", []string{"id", "last_name"}, "id")
			So(sql, ShouldContainSubstring, "ON CONFLICT(id) DO UPDATE SET")
			So(sql, ShouldContainSubstring, "last_name = excluded.last_name")
			So(sql, ShouldNotContainSubstring, "id = excluded.id")
		})

		Convey("sqlite 只有主键列时冲突即忽略", func() {
			sql := UpsertSQL("sqlite3", "artist", []string{"id"}, "id")
			So(sql, ShouldContainSubstring, "ON CONFLICT(id) DO NOTHING")
		})
	})
}
