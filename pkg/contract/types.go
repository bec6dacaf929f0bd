package contract

import "strconv"

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Number: 数值字面量的原文（十进制文本）。
// 解码器不做浮点/整数转换，编码时原样写回，避免 1.0 → 1 之类的漂移。
type Number string

// Int64 将字面量解析为整数；非整数文本返回错误。
func (n Number) Int64() (int64, error) { return strconv.ParseInt(string(n), 10, 64) }

// NumberOf 返回整数的十进制字面量。
func NumberOf(v int64) Number { return Number(strconv.FormatInt(v, 10)) }

// Field: 有序映射中的单个键值对。
type Field struct {
	Key   string
	Value any
}

// Record: 有序映射（卡牌记录或任意嵌套对象）。
// 值的取值范围（与编码无关）：
// - nil / bool / string / Number
// - []any（序列）
// - *Record（嵌套映射）
// 字段顺序即原始插入顺序；Set 对已存在的键原位替换。
type Record struct {
	Fields []Field
}

// NewRecord 以给定字段构造记录（按参数顺序）。
func NewRecord(fields ...Field) *Record {
	return &Record{Fields: fields}
}

// Get 返回键对应的值。
func (r *Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			return r.Fields[i].Value, true
		}
	}
	return nil, false
}

// Set 原位更新已存在的键；不存在时追加到末尾。
func (r *Record) Set(key string, v any) {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: v})
}

// Len 返回字段数。
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Fields)
}

// ShapeKind: 集合的包裹形态。
type ShapeKind int

const (
	// Bare: 顶层即记录序列。
	Bare ShapeKind = iota
	// Wrapped: 顶层为映射，记录序列位于 Shape.Key 之下。
	Wrapped
)

func (k ShapeKind) String() string {
	if k == Wrapped {
		return "wrapped"
	}
	return "bare"
}

// Shape: 包裹形态（Wrapped 时 Key 为包裹键名）。
type Shape struct {
	Kind ShapeKind
	Key  string
}

// Collection: 单个输入文件中的全部记录及其包裹形态。
type Collection struct {
	Shape   Shape
	Records []*Record
}
