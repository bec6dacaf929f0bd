package contract

import "fmt"

// Detect 判定顶层值的包裹形态并抽取记录序列。
// 规则：
// - 顶层为映射且含 keys 中任一键（按 keys 顺序取第一个命中）→ Wrapped(key)，该键的值必须是序列；
// - 顶层为序列 → Bare；
// - 其余情况（含不带包裹键的映射）→ ErrSchema。
// 序列元素必须均为映射。
func Detect(root any, keys []string) (*Collection, error) {
	var (
		shape Shape
		seq   []any
	)
	switch v := root.(type) {
	case *Record:
		found := false
		for _, k := range keys {
			inner, ok := v.Get(k)
			if !ok {
				continue
			}
			s, ok := inner.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: key %q is not a sequence", ErrSchema, k)
			}
			shape, seq, found = Shape{Kind: Wrapped, Key: k}, s, true
			break
		}
		if !found {
			return nil, fmt.Errorf("%w: mapping without a recognized collection key %v", ErrSchema, keys)
		}
	case []any:
		shape, seq = Shape{Kind: Bare}, v
	default:
		return nil, fmt.Errorf("%w: top-level value is neither a sequence nor a mapping", ErrSchema)
	}

	recs := make([]*Record, 0, len(seq))
	for i, it := range seq {
		rec, ok := it.(*Record)
		if !ok || rec == nil {
			return nil, fmt.Errorf("%w: element %d is not a mapping", ErrSchema, i)
		}
		recs = append(recs, rec)
	}
	return &Collection{Shape: shape, Records: recs}, nil
}

// Value 按原包裹形态还原顶层值（Detect 的逆操作）。
// Wrapped 仅输出包裹键本身；顶层其他键不保留。
func (c *Collection) Value() any {
	seq := make([]any, len(c.Records))
	for i, r := range c.Records {
		seq[i] = r
	}
	if c.Shape.Kind == Wrapped {
		return NewRecord(Field{Key: c.Shape.Key, Value: seq})
	}
	return seq
}
