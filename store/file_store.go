package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/hatlonely/recx/cfg"
	"github.com/hatlonely/recx/log"
	"github.com/hatlonely/recx/record"
	"github.com/hatlonely/recx/serializer"
)

// document 全量文档：模型类型 → 主键串 → 扁平行
type document map[string]map[string]map[string]any

type FileStoreOptions struct {
	Path   string `cfg:"path" validate:"required"`
	Format string `cfg:"format" def:"json" validate:"oneof=json yaml toml msgpack"`

	// Watch 监听文件被外部修改时自动重载
	Watch bool `cfg:"watch"`
}

// FileStore 单文件存储：全量文档驻留内存，写入时整体落盘，
// 临时文件加改名保证原子性。集合属性内联为 id 列表
type FileStore struct {
	mutex      sync.RWMutex
	path       string
	serializer serializer.Serializer[document, []byte]
	reg        *record.Registry
	codec      *docCodec
	doc        document
	watcher    *fsnotify.Watcher
	done       chan struct{}
	logger     log.Logger
}

func NewFileStoreWithOptions(reg *record.Registry, options *FileStoreOptions) (*FileStore, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	if err := cfg.Validate(options); err != nil {
		return nil, err
	}

	s, err := serializer.NewByteSerializerWithName[document](options.Format)
	if err != nil {
		return nil, err
	}

	store := &FileStore{
		path:       options.Path,
		serializer: s,
		reg:        reg,
		codec:      newDocCodec(reg),
		doc:        document{},
		logger:     log.Default().WithGroup("store").With("store", "file", "path", options.Path),
	}
	if err := store.load(); err != nil {
		return nil, err
	}

	if options.Watch {
		if err := store.watch(); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (s *FileStore) load() error {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "os.ReadFile failed")
	}
	if len(buf) == 0 {
		return nil
	}

	doc, err := s.serializer.Deserialize(buf)
	if err != nil {
		return errors.WithMessagef(err, "decode document %s", s.path)
	}
	s.doc = doc
	return nil
}

func (s *FileStore) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "fsnotify.NewWatcher failed")
	}
	// 监听目录而不是文件本身，改名替换后继续收到事件
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "watcher.Add failed")
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				s.mutex.Lock()
				if err := s.load(); err != nil {
					s.logger.Warn("reload document failed", "err", err)
				}
				s.mutex.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "err", err)
			case <-s.done:
				return
			}
		}
	}()

	return nil
}

// persist 序列化整个文档并原子替换，调用方需持有写锁
func (s *FileStore) persist() error {
	buf, err := s.serializer.Serialize(s.doc)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return errors.Wrap(err, "os.WriteFile failed")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "os.Rename failed")
	}
	return nil
}

// Build 保证文档和闭包内每个类型的条目存在，返回新增条目数
func (s *FileStore) Build(ctx context.Context, types []string, opts ...BuildOption) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := 0
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
			return count, err
		}
		if _, ok := s.doc[typ]; !ok {
			s.doc[typ] = map[string]map[string]any{}
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

	if count > 0 {
		if err := s.persist(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *FileStore) Exists(ctx context.Context, typ string, id any) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.doc[typ][idKey(id)]
	return ok, nil
}

func (s *FileStore) Get(ctx context.Context, typ string, id any) (*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, ok := s.doc[typ][idKey(id)]
	if !ok {
		return nil, nil
	}
	return s.join(desc, row)
}

func (s *FileStore) join(desc *record.Descriptor, row map[string]any) (*record.Model, error) {
	fetch := func(child *record.Descriptor, id any) (map[string]any, error) {
		return s.doc[child.Type][idKey(id)], nil
	}
	match := func(child *record.Descriptor, matchKey string, parentID any) ([]map[string]any, error) {
		return s.matchRows(child, matchKey, parentID), nil
	}
	return s.codec.join(desc, row, fetch, match, map[string]bool{desc.Type: true})
}

func (s *FileStore) matchRows(child *record.Descriptor, matchKey string, parentID any) []map[string]any {
	var out []map[string]any
	for _, key := range sortedKeys(s.doc[child.Type]) {
		row := s.doc[child.Type][key]
		if idKey(row[matchKey]) == idKey(parentID) {
			out = append(out, row)
		}
	}
	return out
}

func (s *FileStore) List(ctx context.Context, typ string, ids []any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var keys []string
	if len(ids) > 0 {
		for _, id := range ids {
			keys = append(keys, idKey(id))
		}
	} else {
		keys = sortedKeys(s.doc[typ])
	}

	models := make([]*record.Model, 0, len(keys))
	for _, key := range keys {
		row, ok := s.doc[typ][key]
		if !ok {
			continue
		}
		m, err := s.join(desc, row)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (s *FileStore) Filter(ctx context.Context, typ string, cond map[string]any) ([]*record.Model, error) {
	desc, err := s.reg.Get(typ)
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var models []*record.Model
	for _, key := range sortedKeys(s.doc[typ]) {
		row := s.doc[typ][key]
		if !matchCond(row, cond) {
			continue
		}
		m, err := s.join(desc, row)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (s *FileStore) Set(ctx context.Context, m *record.Model) (*record.Model, error) {
	desc, err := s.reg.Get(m.Type)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.saveLocked(desc, m); err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *FileStore) saveLocked(desc *record.Descriptor, m *record.Model) error {
	save := func(child *record.Descriptor, cm *record.Model) (any, error) {
		if err := s.saveLocked(child, cm); err != nil {
			return nil, err
		}
		return cm.ID(child), nil
	}
	row, err := s.codec.split(desc, m, save)
	if err != nil {
		return err
	}

	if _, ok := s.doc[desc.Type]; !ok {
		s.doc[desc.Type] = map[string]map[string]any{}
	}
	s.doc[desc.Type][idKey(m.ID(desc))] = row
	return nil
}

func (s *FileStore) Delete(ctx context.Context, typ string, id any) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := idKey(id)
	if _, ok := s.doc[typ][key]; !ok {
		return false, nil
	}
	delete(s.doc[typ], key)
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Flush(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.persist()
}

func (s *FileStore) Close() error {
	if s.watcher != nil {
		close(s.done)
		_ = s.watcher.Close()
		s.watcher = nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.persist()
}

func sortedKeys(rows map[string]map[string]any) []string {
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// matchCond 在内存行上求谓词：标量等值，切片包含，Range 闭区间
func matchCond(row map[string]any, cond map[string]any) bool {
	for name, predicate := range cond {
		v := row[name]
		switch p := predicate.(type) {
		case Range:
			if cmpValues(v, p.From) < 0 || cmpValues(v, p.To) > 0 {
				return false
			}
		case []any:
			found := false
			for _, candidate := range p {
				if valueEqual(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !valueEqual(v, p) {
				return false
			}
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return idKey(a) == idKey(b)
}

// cmpValues 两边都是数字按数值比较，否则按字符串比较
func cmpValues(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	as, bs := idKey(a), idKey(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int32:
		return float64(f), true
	case int64:
		return float64(f), true
	case uint64:
		return float64(f), true
	case bool:
		if f {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
