package record

// Property 属性描述接口，每种结构形态一个实现
type Property interface {
	Kind() Kind
	Spec() *PropertySpec
}

// PropertySpec 所有属性共有的约束字段
type PropertySpec struct {
	// 属性名，同时是列名
	Name string

	// 是否必填
	Required bool

	// 唯一索引组名，同组属性构成一个联合唯一索引
	UniqueGroup string

	// 普通索引组名，同组属性构成一个联合索引
	IndexGroup string

	// 默认值，写入时缺失则补齐，同时落到列定义上
	Default any
}

func (s *PropertySpec) Spec() *PropertySpec {
	return s
}

// Scalar 标量属性：bool/int/float/datetime/date/time/mixed
type Scalar struct {
	PropertySpec
	ScalarKind Kind
}

func (p *Scalar) Kind() Kind { return p.ScalarKind }

// Text 文本属性：string/uuid/url/email，可限制最大长度
type Text struct {
	PropertySpec
	TextKind Kind
	MaxLen   int
}

func (p *Text) Kind() Kind { return p.TextKind }

// Ref 对象属性，内嵌另一个模型类型，持久化为子模型主键
type Ref struct {
	PropertySpec
	Model string
}

func (p *Ref) Kind() Kind { return KindObject }

// List 集合属性，元素为另一个模型类型
// MatchKey 非空时表示反向关联：关系存储在子模型的 MatchKey 属性上，本侧不落列
type List struct {
	PropertySpec
	Model    string
	MatchKey string
}

func (p *List) Kind() Kind { return KindArray }

// Raw 无身份的 array/object 属性，编码为文本列存储
type Raw struct {
	PropertySpec
	RawKind Kind
}

func (p *Raw) Kind() Kind { return p.RawKind }

// Func 函数属性，永不持久化
type Func struct {
	PropertySpec
}

func (p *Func) Kind() Kind { return KindFunction }
