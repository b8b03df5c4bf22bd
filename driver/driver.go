package driver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/recx/cfg"
	"github.com/hatlonely/recx/log"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	// ErrConnection 连接无法建立或维持，本层不做重试
	ErrConnection = errors.New("connection error")
	// ErrConstraintViolation 唯一约束或外键约束冲突
	ErrConstraintViolation = errors.New("constraint violation")
)

type Options struct {
	Driver   string `cfg:"driver" def:"mysql" validate:"oneof=mysql sqlite3"`
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port" def:"3306"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`
	Logger   *log.SLogOptions
}

// Conn 一个存储实例独占的数据库连接，私有预编译语句表随连接存亡
type Conn struct {
	db     *sql.DB
	driver string
	stmts  map[string]*sql.Stmt
	logger log.Logger
}

func NewConnWithOptions(options *Options) (*Conn, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	if err := cfg.Validate(options); err != nil {
		return nil, err
	}

	logger, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}

	dsn := options.DSN
	if dsn == "" {
		switch options.Driver {
		case "mysql":
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
				options.Username, options.Password, options.Host, options.Port, options.Database, options.Charset)
		case "sqlite3":
			dsn = options.Database
		default:
			return nil, errors.Errorf("unsupported driver: %s", options.Driver)
		}
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.WithMessage(ErrConnection, err.Error())
	}

	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)

	if err := db.Ping(); err != nil {
		return nil, errors.WithMessage(ErrConnection, err.Error())
	}

	// sqlite 默认不启用外键约束
	if options.Driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, errors.WithMessage(ErrConnection, err.Error())
		}
	}

	return &Conn{
		db:     db,
		driver: options.Driver,
		stmts:  map[string]*sql.Stmt{},
		logger: logger.WithGroup("driver").With("driver", options.Driver),
	}, nil
}

// Driver 返回底层驱动名：mysql 或 sqlite3
func (c *Conn) Driver() string {
	return c.driver
}

// DB 暴露底层连接，仅供 schema 探查使用
func (c *Conn) DB() *sql.DB {
	return c.db
}

// prepare 预编译语句缓存，以 SQL 文本为键
func (c *Conn) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	c.stmts[query] = stmt
	return stmt, nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.logger.DebugContext(ctx, "exec", "sql", query, "args", args)

	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.logger.DebugContext(ctx, "query", "sql", query, "args", args)

	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// ExecDDL 直接执行 DDL，不进预编译缓存（表结构变化会使缓存语句失效）
func (c *Conn) ExecDDL(ctx context.Context, query string) error {
	c.logger.InfoContext(ctx, "ddl", "sql", query)

	// 结构变化后旧语句不可复用
	for key, stmt := range c.stmts {
		stmt.Close()
		delete(c.stmts, key)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return &Tx{tx: tx, driver: c.driver, logger: c.logger}, nil
}

func (c *Conn) Close() error {
	for _, stmt := range c.stmts {
		stmt.Close()
	}
	c.stmts = map[string]*sql.Stmt{}
	return c.db.Close()
}

// Tx 事务句柄，接口与 Conn 对齐，不支持嵌套事务
type Tx struct {
	tx     *sql.Tx
	driver string
	logger log.Logger
}

func (t *Tx) Driver() string {
	return t.driver
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.logger.DebugContext(ctx, "tx exec", "sql", query, "args", args)

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t.logger.DebugContext(ctx, "tx query", "sql", query, "args", args)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Executor Conn 和 Tx 的公共操作面
type Executor interface {
	Driver() string
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// mapError 将驱动错误映射到本层的哨兵错误，其余原样上抛
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062, 1451, 1452:
			return errors.WithMessage(ErrConstraintViolation, err.Error())
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return errors.WithMessage(ErrConstraintViolation, err.Error())
		}
		return err
	}

	return err
}

// ScanMaps 将查询结果整行扫描为 map，[]byte 统一转为 string
func ScanMaps(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		data := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				data[col] = string(b)
			} else {
				data[col] = values[i]
			}
		}
		result = append(result, data)
	}

	return result, rows.Err()
}
