package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/cache"
	"github.com/hatlonely/recx/driver"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/schema"
)

// BuildOption 结构同步选项，直接复用 schema 包的定义
type BuildOption = schema.BuildOption

// WithRenameColumns 把同类型的删列建列对当作重命名处理
var WithRenameColumns = schema.WithRenameColumns

// Range Filter 的闭区间谓词，映射为 BETWEEN
type Range struct {
	From any
	To   any
}

// Store 记录持久化契约。
// 单实例独占一条底层连接，不做内部重试，并发调用方各持一个实例
type Store interface {
	// Exists 按主键判断记录是否存在
	Exists(ctx context.Context, typ string, id any) (bool, error)

	// Get 按主键取单条记录，不存在时返回 (nil, nil)
	Get(ctx context.Context, typ string, id any) (*record.Model, error)

	// List 按主键集合取记录，ids 为空表示全量
	List(ctx context.Context, typ string, ids []any) ([]*record.Model, error)

	// Filter 按谓词取记录：标量为等值，切片为 IN，Range 为 BETWEEN
	Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error)

	// Set 校验并写入整个模型图，内嵌模型级联写入，同一事务内全量成功或全量回滚
	Set(ctx context.Context, m *record.Model) (*record.Model, error)

	// Delete 按主键删除，返回是否确实删除了记录
	Delete(ctx context.Context, typ string, id any) (bool, error)

	// Build 同步类型闭包对应的存储结构，返回变更条数，幂等
	Build(ctx context.Context, types []string, opts ...BuildOption) (int, error)

	// Flush 把未落盘的变更持久化，关系型实现为空操作
	Flush(ctx context.Context) error

	Close() error
}

type Options struct {
	Type string `cfg:"type" def:"sql" validate:"oneof=sql file bolt"`

	SQL  driver.Options   `cfg:"sql"`
	File FileStoreOptions `cfg:"file"`
	Bolt BoltStoreOptions `cfg:"bolt"`

	// Cache 非空时在基础存储外套一层快照缓存
	Cache *cache.Options `cfg:"cache"`

	// Observable 非空时在最外层套观测中间件
	Observable *ObservableOptions `cfg:"observable"`
}

// NewStoreWithOptions 组装存储栈：基础存储，可选缓存层，可选观测层
func NewStoreWithOptions(reg *record.Registry, options *Options) (Store, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if reg == nil {
		return nil, errors.New("registry is nil")
	}

	var store Store
	var err error
	switch options.Type {
	case "", "sql":
		store, err = NewSQLStoreWithOptions(reg, &options.SQL)
	case "file":
		store, err = NewFileStoreWithOptions(reg, &options.File)
	case "bolt":
		store, err = NewBoltStoreWithOptions(reg, &options.Bolt)
	default:
		return nil, errors.Errorf("unsupported store type: %s", options.Type)
	}
	if err != nil {
		return nil, err
	}

	if options.Cache != nil {
		c, err := cache.NewCacheWithOptions(options.Cache)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = NewCacheStore(reg, store, c)
	}

	if options.Observable != nil {
		store, err = NewObservableStoreWithOptions(store, options.Observable)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return store, nil
}
