package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/hatlonely/recx/cfg"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/serializer"
)

type BoltStoreOptions struct {
	Path    string        `cfg:"path" validate:"required"`
	Timeout time.Duration `cfg:"timeout" def:"3s"`
}

// BoltStore 文档语义落在 bbolt 上：类型一个桶，主键串作键，行编码为 msgpack
type BoltStore struct {
	db         *bolt.DB
	reg        *record.Registry
	codec      *docCodec
	serializer serializer.Serializer[map[string]any, []byte]
}

func NewBoltStoreWithOptions(reg *record.Registry, options *BoltStoreOptions) (*BoltStore, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	if err := cfg.Validate(options); err != nil {
		return nil, err
	}

	db, err := bolt.Open(options.Path, 0644, &bolt.Options{Timeout: options.Timeout})
	if err != nil {
		return nil, errors.Wrap(err, "bolt.Open failed")
	}

	s, err := serializer.NewByteSerializerWithName[map[string]any]("msgpack")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{
		db:         db,
		reg:        reg,
		codec:      newDocCodec(reg),
		serializer: s,
	}, nil
}

// Build 为闭包内每个类型建桶，返回新建桶数
func (s *BoltStore) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		queue := append([]string{}, types...)
		seen := map[string]bool{}
		for len(queue) > 0 {
			typ := queue[0]
			queue = queue[1:]
			if seen[typ] {
				continue
			}
			seen[typ] = true

			desc, err := s.reg.Get(typ)
			if err != nil {
				return err
			}
			if tx.Bucket([]byte(typ)) == nil {
				if _, err := tx.CreateBucket([]byte(typ)); err != nil {
					return errors.Wrap(err, "tx.CreateBucket failed")
				}
				count++
			}
			for _, p := range desc.Properties {
				switch prop := p.(type) {
				case *record.Ref:
					queue = append(queue, prop.Model)
				case *record.List:
					queue = append(queue, prop.Model)
				}
			}
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) Exists(ctx context.Context, typ string, id any) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(typ))
		if bucket == nil {
			return nil
		}
		exists = bucket.Get([]byte(idKey(id))) != nil
		return nil
	})
	return exists, err
}

func (s *BoltStore) Get(ctx context.Context, typ string, id any) (*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	var m *record.Model
	err = s.db.View(func(tx *bolt.Tx) error {
		row, err := s.readRow(tx, typ, idKey(id))
		if err != nil || row == nil {
			return err
		}
		m, err = s.join(tx, desc, row)
		return err
	})
	return m, err
}

func (s *BoltStore) readRow(tx *bolt.Tx, typ, key string) (map[string]any, error) {
	bucket := tx.Bucket([]byte(typ))
	if bucket == nil {
		return nil, nil
	}
	buf := bucket.Get([]byte(key))
	if buf == nil {
		return nil, nil
	}
	return s.serializer.Deserialize(buf)
}

func (s *BoltStore) join(tx *bolt.Tx, desc *record.Descriptor, row map[string]any) (*record.Model, error) {
	fetch := func(child *record.Descriptor, id any) (map[string]any, error) {
		return s.readRow(tx, child.Type, idKey(id))
	}
	match := func(child *record.Descriptor, matchKey string, parentID any) ([]map[string]any, error) {
		var out []map[string]any
		bucket := tx.Bucket([]byte(child.Type))
		if bucket == nil {
			return nil, nil
		}
		err := bucket.ForEach(func(_, buf []byte) error {
			row, err := s.serializer.Deserialize(buf)
			if err != nil {
				return err
			}
			if idKey(row[matchKey]) == idKey(parentID) {
				out = append(out, row)
			}
			return nil
		})
		return out, err
	}
	return s.codec.join(desc, row, fetch, match, map[string]bool{desc.Type: true})
}

func (s *BoltStore) List(ctx context.Context, typ string, ids []any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	var models []*record.Model
	err = s.db.View(func(tx *bolt.Tx) error {
		if len(ids) > 0 {
			for _, id := range ids {
				row, err := s.readRow(tx, typ, idKey(id))
				if err != nil {
					return err
				}
				if row == nil {
					continue
				}
				m, err := s.join(tx, desc, row)
				if err != nil {
					return err
				}
				models = append(models, m)
			}
			return nil
		}

		bucket := tx.Bucket([]byte(typ))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, buf []byte) error {
			row, err := s.serializer.Deserialize(buf)
			if err != nil {
				return err
			}
			m, err := s.join(tx, desc, row)
			if err != nil {
				return err
			}
			models = append(models, m)
			return nil
		})
	})
	if models == nil {
		models = []*record.Model{}
	}
	return models, err
}

func (s *BoltStore) Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	var models []*record.Model
	err = s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(typ))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, buf []byte) error {
			row, err := s.serializer.Deserialize(buf)
			if err != nil {
				return err
			}
			if !matchCond(row, cond) {
				return nil
			}
			m, err := s.join(tx, desc, row)
			if err != nil {
				return err
			}
			models = append(models, m)
			return nil
		})
	})
	if models == nil {
		models = []*record.Model{}
	}
	return models, err
}

func (s *BoltStore) Set(ctx context.Context, m *record.Model) (*record.Model, error) {
	desc, err := s.reg.Get(m.Type)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return s.saveInTx(tx, desc, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *BoltStore) saveInTx(tx *bolt.Tx, desc *record.Descriptor, m *record.Model) error {
	save := func(child *record.Descriptor, cm *record.Model) (any, error) {
		if err := s.saveInTx(tx, child, cm); err != nil {
			return nil, err
		}
		return cm.ID(child), nil
	}
	row, err := s.codec.split(desc, m, save)
	if err != nil {
		return err
	}

	buf, err := s.serializer.Serialize(row)
	if err != nil {
		return err
	}
	bucket, err := tx.CreateBucketIfNotExists([]byte(desc.Type))
	if err != nil {
		return errors.Wrap(err, "tx.CreateBucketIfNotExists failed")
	}
	return bucket.Put([]byte(idKey(m.ID(desc))), buf)
}

func (s *BoltStore) Delete(ctx context.Context, typ string, id any) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(typ))
		if bucket == nil {
			return nil
		}
		key := []byte(idKey(id))
		if bucket.Get(key) == nil {
			return nil
		}
		deleted = true
		return bucket.Delete(key)
	})
	return deleted, err
}

func (s *BoltStore) Flush(ctx context.Context) error {
	return errors.Wrap(s.db.Sync(), "db.Sync failed")
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
