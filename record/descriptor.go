package record

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Descriptor 模型描述，按声明顺序持有属性集合，注册后只读
type Descriptor struct {
	// 模型类型标识，同时是表名
	Type string

	// 属性集合，顺序即列顺序
	Properties []Property

	// 主键属性名，为空表示无主键（只能内联存储，不能被引用）
	PrimaryKey string

	index map[string]Property
}

var scalarKinds = map[Kind]bool{
	KindBool: true, KindInt: true, KindFloat: true,
	KindDateTime: true, KindDate: true, KindTime: true, KindMixed: true,
}

var textKinds = map[Kind]bool{
	KindString: true, KindUUID: true, KindURL: true, KindEmail: true,
}

// Validate 描述自检：属性名唯一非空、变体类型合法、主键存在且可作为列
func (d *Descriptor) Validate() error {
	if d.Type == "" {
		return errors.New("descriptor type is empty")
	}

	seen := map[string]bool{}
	for _, p := range d.Properties {
		name := p.Spec().Name
		if name == "" {
			return errors.Errorf("descriptor %s has a property with empty name", d.Type)
		}
		if seen[name] {
			return errors.Errorf("descriptor %s has duplicate property %s", d.Type, name)
		}
		seen[name] = true

		switch v := p.(type) {
		case *Scalar:
			if !scalarKinds[v.ScalarKind] {
				return errors.Errorf("descriptor %s property %s: invalid scalar kind %s", d.Type, name, v.ScalarKind)
			}
		case *Text:
			if !textKinds[v.TextKind] {
				return errors.Errorf("descriptor %s property %s: invalid text kind %s", d.Type, name, v.TextKind)
			}
			if v.MaxLen < 0 {
				return errors.Errorf("descriptor %s property %s: negative max length", d.Type, name)
			}
		case *Ref:
			if v.Model == "" {
				return errors.Errorf("descriptor %s property %s: ref without model", d.Type, name)
			}
		case *List:
			if v.Model == "" {
				return errors.Errorf("descriptor %s property %s: list without model", d.Type, name)
			}
		case *Raw:
			if v.RawKind != KindArray && v.RawKind != KindObject {
				return errors.Errorf("descriptor %s property %s: invalid raw kind %s", d.Type, name, v.RawKind)
			}
		case *Func:
		default:
			return errors.Errorf("descriptor %s property %s: unknown property variant %T", d.Type, name, p)
		}
	}

	if d.PrimaryKey != "" {
		p := d.property(d.PrimaryKey)
		if p == nil {
			return errors.Errorf("descriptor %s: primary key %s is not a property", d.Type, d.PrimaryKey)
		}
		switch p.(type) {
		case *Text, *Scalar:
		default:
			return errors.Errorf("descriptor %s: primary key %s must be a scalar or text property", d.Type, d.PrimaryKey)
		}
	}

	return nil
}

func (d *Descriptor) property(name string) Property {
	if d.index != nil {
		return d.index[name]
	}
	for _, p := range d.Properties {
		if p.Spec().Name == name {
			return p
		}
	}
	return nil
}

// Property 按名字查找属性，不存在时返回 nil
func (d *Descriptor) Property(name string) Property {
	return d.property(name)
}

// Primary 返回主键属性，无主键时返回 nil
func (d *Descriptor) Primary() Property {
	if d.PrimaryKey == "" {
		return nil
	}
	return d.property(d.PrimaryKey)
}

// HasNested 是否存在内嵌模型属性（Ref 或 List）
func (d *Descriptor) HasNested() bool {
	for _, p := range d.Properties {
		switch p.(type) {
		case *Ref, *List:
			return true
		}
	}
	return false
}

// Check 写入前的实例校验与归一化：补默认值、类型收敛（int→int64、
// float→float64、时间→字符串）、长度与格式约束，失败返回 *ValidationError
func (d *Descriptor) Check(m *Model) error {
	if m.Type != d.Type {
		return newValidationError(d.Type, "", "model type mismatch: "+m.Type)
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}

	for _, p := range d.Properties {
		spec := p.Spec()
		v, ok := m.Data[spec.Name]
		if !ok || v == nil {
			if spec.Default != nil {
				m.Data[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				return newValidationError(d.Type, spec.Name, "required property is missing")
			}
			continue
		}

		normalized, err := d.checkValue(p, v)
		if err != nil {
			return err
		}
		m.Data[spec.Name] = normalized
	}

	return nil
}

func (d *Descriptor) checkValue(p Property, v any) (any, error) {
	name := p.Spec().Name

	switch prop := p.(type) {
	case *Scalar:
		return d.checkScalar(prop, v)

	case *Text:
		s, ok := v.(string)
		if !ok {
			return nil, newValidationError(d.Type, name, "expected string")
		}
		if prop.MaxLen > 0 && len(s) > prop.MaxLen {
			return nil, newValidationError(d.Type, name, "value exceeds max length")
		}
		switch prop.TextKind {
		case KindEmail:
			if !strings.Contains(s, "@") {
				return nil, newValidationError(d.Type, name, "invalid email")
			}
		case KindURL:
			u, err := url.Parse(s)
			if err != nil || u.Scheme == "" {
				return nil, newValidationError(d.Type, name, "invalid url")
			}
		}
		return s, nil

	case *Ref:
		switch child := v.(type) {
		case *Model:
			if child.Type != prop.Model {
				return nil, newValidationError(d.Type, name, "nested model type mismatch: "+child.Type)
			}
			return child, nil
		case string:
			return child, nil
		case int, int32, int64:
			return toInt64(child), nil
		}
		return nil, newValidationError(d.Type, name, "expected nested model or id")

	case *List:
		items, err := d.checkList(prop, v)
		if err != nil {
			return nil, err
		}
		return items, nil

	case *Raw:
		return v, nil

	case *Func:
		return v, nil
	}

	return nil, newValidationError(d.Type, name, "unknown property variant")
}

func (d *Descriptor) checkScalar(p *Scalar, v any) (any, error) {
	name := p.Spec().Name

	switch p.ScalarKind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, newValidationError(d.Type, name, "expected bool")

	case KindInt:
		if i, ok := asInt64(v); ok {
			return i, nil
		}
		return nil, newValidationError(d.Type, name, "expected int")

	case KindFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		case int, int32, int64:
			return float64(toInt64(f)), nil
		}
		return nil, newValidationError(d.Type, name, "expected float")

	case KindDateTime, KindDate, KindTime:
		layout := DateTimeFormat
		switch p.ScalarKind {
		case KindDate:
			layout = DateFormat
		case KindTime:
			layout = TimeFormat
		}
		switch t := v.(type) {
		case time.Time:
			return t.Format(layout), nil
		case string:
			if _, err := time.Parse(layout, t); err != nil {
				return nil, newValidationError(d.Type, name, "invalid "+string(p.ScalarKind)+" value")
			}
			return t, nil
		}
		return nil, newValidationError(d.Type, name, "expected time or string")

	case KindMixed:
		return v, nil
	}

	return nil, newValidationError(d.Type, name, "invalid scalar kind")
}

func (d *Descriptor) checkList(p *List, v any) ([]any, error) {
	name := p.Spec().Name

	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []*Model:
		items = make([]any, len(list))
		for i, m := range list {
			items[i] = m
		}
	default:
		return nil, newValidationError(d.Type, name, "expected list")
	}

	for i, item := range items {
		switch child := item.(type) {
		case *Model:
			if child.Type != p.Model {
				return nil, newValidationError(d.Type, name, "nested model type mismatch: "+child.Type)
			}
		case string:
		case int, int32, int64:
			items[i] = toInt64(child)
		default:
			return nil, newValidationError(d.Type, name, "list element must be nested model or id")
		}
	}

	return items, nil
}

func asInt64(v any) (int64, bool) {
	switch i := v.(type) {
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case int64:
		return i, true
	case uint:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint64:
		return int64(i), true
	case float64:
		// json 解码出的整数是 float64
		if i == float64(int64(i)) {
			return int64(i), true
		}
	}
	return 0, false
}

func toInt64(v any) int64 {
	i, _ := asInt64(v)
	return i
}

// Registry 描述注册表，按模型类型索引，注册后描述只读
type Registry struct {
	descriptors map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: map[string]*Descriptor{}}
}

// Register 校验并注册描述，重复注册同一类型返回错误
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := r.descriptors[d.Type]; ok {
		return errors.Errorf("descriptor %s already registered", d.Type)
	}

	d.index = make(map[string]Property, len(d.Properties))
	for _, p := range d.Properties {
		d.index[p.Spec().Name] = p
	}
	r.descriptors[d.Type] = d
	return nil
}

func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get 按类型取描述，未注册返回错误
func (r *Registry) Get(typ string) (*Descriptor, error) {
	d, ok := r.descriptors[typ]
	if !ok {
		return nil, errors.Errorf("descriptor %s not registered", typ)
	}
	return d, nil
}

// Types 返回所有已注册类型，按名字排序
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.descriptors))
	for typ := range r.descriptors {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
