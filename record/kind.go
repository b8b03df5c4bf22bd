package record

// Kind 属性语义类型
type Kind string

const (
	KindBool     Kind = "bool"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindString   Kind = "string"
	KindUUID     Kind = "uuid"
	KindURL      Kind = "url"
	KindEmail    Kind = "email"
	KindDateTime Kind = "datetime"
	KindDate     Kind = "date"
	KindTime     Kind = "time"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindFunction Kind = "function"
	KindMixed    Kind = "mixed"
)

// 日期时间属性统一存储为字符串，保证跨后端的往返一致性
const (
	DateTimeFormat = "2006-01-02 15:04:05"
	DateFormat     = "2006-01-02"
	TimeFormat     = "15:04:05"
)
