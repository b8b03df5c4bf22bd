package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/recx/cache"
	"github.com/hatlonely/recx/record"
)

// CacheStore 快照缓存中间件。
// 每条记录一份按 (类型, 主键) 存放的不可变序列化快照，命中即解码返回，
// 返回实例与快照无共享，调用方改动不会污染缓存。
// 写操作使整个缓存失效：一次写可能间接改变任意查询备忘的结果
type CacheStore struct {
	reg   *record.Registry
	base  Store
	cache cache.Cache
}

func NewCacheStore(reg *record.Registry, base Store, c cache.Cache) *CacheStore {
	return &CacheStore{reg: reg, base: base, cache: c}
}

func snapshotKey(typ string, id any) string {
	return "m:" + typ + ":" + idKey(id)
}

// memoKey 查询备忘键：操作名、类型和规范化参数的 sha1
func memoKey(op, typ string, args string) string {
	sum := sha1.Sum([]byte(op + "|" + typ + "|" + args))
	return "q:" + hex.EncodeToString(sum[:])
}

func canonicalArgs(v any) string {
	switch args := v.(type) {
	case []any:
		parts := make([]string, len(args))
		for i, item := range args {
			parts[i] = idKey(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			switch pv := args[k].(type) {
			case Range:
				parts = append(parts, fmt.Sprintf("%s:[%v,%v]", k, pv.From, pv.To))
			case []any:
				parts = append(parts, k+":("+canonicalArgs(pv)+")")
			default:
				parts = append(parts, fmt.Sprintf("%s:%v", k, pv))
			}
		}
		return strings.Join(parts, ";")
	}
	return fmt.Sprintf("%v", v)
}

func (s *CacheStore) Exists(ctx context.Context, typ string, id any) (bool, error) {
	if _, err := s.cache.Get(ctx, snapshotKey(typ, id)); err == nil {
		return true, nil
	}
	return s.base.Exists(ctx, typ, id)
}

func (s *CacheStore) Get(ctx context.Context, typ string, id any) (*record.Model, error) {
	if snap, err := s.cache.Get(ctx, snapshotKey(typ, id)); err == nil {
		return record.Decode(s.reg, typ, string(snap))
	}

	m, err := s.base.Get(ctx, typ, id)
	if err != nil || m == nil {
		return m, err
	}
	if err := s.storeSnapshot(ctx, typ, id, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *CacheStore) storeSnapshot(ctx context.Context, typ string, id any, m *record.Model) error {
	snap, err := record.Encode(m)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, snapshotKey(typ, id), []byte(snap))
}

func (s *CacheStore) List(ctx context.Context, typ string, ids []any) ([]*record.Model, error) {
	return s.memoized(ctx, memoKey("list", typ, canonicalArgs(ids)), typ, func() ([]*record.Model, error) {
		return s.base.List(ctx, typ, ids)
	})
}

func (s *CacheStore) Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error) {
	return s.memoized(ctx, memoKey("filter", typ, canonicalArgs(cond)), typ, func() ([]*record.Model, error) {
		return s.base.Filter(ctx, typ, cond)
	})
}

// memoized 备忘查询结果的有序主键表；复用前逐个核对快照仍在，
// 任何一个缺席就回落到底层查询并重建备忘
func (s *CacheStore) memoized(ctx context.Context, key, typ string, query func() ([]*record.Model, error)) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	if buf, err := s.cache.Get(ctx, key); err == nil {
		var ids []string
		if err := json.Unmarshal(buf, &ids); err == nil {
			models := make([]*record.Model, 0, len(ids))
			valid := true
			for _, id := range ids {
				snap, err := s.cache.Get(ctx, snapshotKey(typ, id))
				if err != nil {
					valid = false
					break
				}
				m, err := record.Decode(s.reg, typ, string(snap))
				if err != nil {
					valid = false
					break
				}
				models = append(models, m)
			}
			if valid {
				return models, nil
			}
		}
	}

	models, err := query()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		id := m.ID(desc)
		if id == nil {
			// 无主键的结果无法备忘，直接返回
			return models, nil
		}
		if err := s.storeSnapshot(ctx, typ, id, m); err != nil {
			return nil, err
		}
		ids = append(ids, idKey(id))
	}
	buf, err := json.Marshal(ids)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}
	if err := s.cache.Set(ctx, key, buf); err != nil {
		return nil, err
	}
	return models, nil
}

// Set 先比较快照：序列化结果与缓存逐字节一致则是空操作，底层存储不被触碰
func (s *CacheStore) Set(ctx context.Context, m *record.Model) (*record.Model, error) {
	desc, err := s.reg.Get(m.Type)
	if err != nil {
		return nil, err
	}
	if err := desc.Check(m); err != nil {
		return nil, err
	}

	id := m.ID(desc)
	if id != nil {
		snap, err := s.cache.Get(ctx, snapshotKey(m.Type, id))
		if err == nil {
			encoded, err := record.Encode(m)
			if err != nil {
				return nil, err
			}
			if string(snap) == encoded {
				return m, nil
			}
		}
	}

	result, err := s.base.Set(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Clear(ctx); err != nil {
		return nil, err
	}
	if resultID := result.ID(desc); resultID != nil {
		if err := s.storeSnapshot(ctx, m.Type, resultID, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *CacheStore) Delete(ctx context.Context, typ string, id any) (bool, error) {
	deleted, err := s.base.Delete(ctx, typ, id)
	if err != nil {
		return false, err
	}
	if err := s.cache.Clear(ctx); err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *CacheStore) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	count, err := s.base.Build(ctx, types, opts...)
	if err != nil {
		return count, err
	}
	if err := s.cache.Clear(ctx); err != nil {
		return count, err
	}
	return count, nil
}

func (s *CacheStore) Flush(ctx context.Context) error {
	return s.base.Flush(ctx)
}

func (s *CacheStore) Close() error {
	cacheErr := s.cache.Close()
	baseErr := s.base.Close()
	if baseErr != nil {
		return baseErr
	}
	return cacheErr
}
