// Package renumber 为卡牌记录重新分配连续 ID，并同步改写图片引用中的旧 ID。
//
// 计数器以值传递：Apply 接收当前值并返回推进后的值，调用方负责跨文件串联；
// 包内不持有任何进程级状态。
package renumber

import (
	"context"
	"fmt"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

// Counter: 下一个待分配的 ID。
type Counter int64

// Options: 字段名与分隔符约定。
type Options struct {
	// IDField: 标识字段名（默认 "id"）。
	IDField string
	// RefField: 引用字段名（默认 "img"）。
	RefField string
	// Separator: 引用中数字串后的分隔符（默认 '_'）。
	Separator byte
}

// DefaultOptions 返回与卡牌数据约定一致的默认值。
func DefaultOptions() Options {
	return Options{IDField: "id", RefField: "img", Separator: '_'}
}

// Span: 单个集合分配到的 ID 区间（闭区间；Count=0 时 First/Last 无意义）。
type Span struct {
	First int64
	Last  int64
	Count int
	// Patched: 引用被改写的记录数。
	Patched int
	// Overwritten: 本集合中覆盖了既有映射的旧 ID 数。
	Overwritten int
}

// Renumberer 对单个集合执行重编号。无内部状态，可重复使用。
type Renumberer struct {
	opts Options
}

// New 创建 Renumberer；空字段沿用默认值。
func New(opts Options) *Renumberer {
	d := DefaultOptions()
	if opts.IDField == "" {
		opts.IDField = d.IDField
	}
	if opts.RefField == "" {
		opts.RefField = d.RefField
	}
	if opts.Separator == 0 {
		opts.Separator = d.Separator
	}
	return &Renumberer{opts: opts}
}

// Options 返回生效的选项。
func (r *Renumberer) Options() Options { return r.opts }

// Apply 按记录顺序为集合分配 next, next+1, ...，原位修改记录并写入 ids。
// 返回推进后的计数器。记录缺少 id 字段时返回 ErrSchema，此前已处理的记录保持已修改状态
// （调用方据此放弃写出该文件）。
func (r *Renumberer) Apply(ctx context.Context, coll *contract.Collection, next Counter, ids *IDMap) (Counter, Span, error) {
	span := Span{First: int64(next)}
	for i, rec := range coll.Records {
		if err := ctx.Err(); err != nil {
			return next, span, err
		}
		oldVal, ok := rec.Get(r.opts.IDField)
		if !ok {
			return next, span, fmt.Errorf("%w: record %d missing %q", contract.ErrSchema, i, r.opts.IDField)
		}
		key, err := KeyOf(oldVal)
		if err != nil {
			return next, span, fmt.Errorf("record %d: %w", i, err)
		}
		cur := int64(next)
		if ids.Put(key, cur) {
			span.Overwritten++
		}
		rec.Set(r.opts.IDField, contract.NumberOf(cur))

		if ref, ok := rec.Get(r.opts.RefField); ok {
			if s, isStr := ref.(string); isStr {
				if patched, changed := PatchReference(s, cur, r.opts.Separator); changed {
					rec.Set(r.opts.RefField, patched)
					span.Patched++
				}
			}
		}

		span.Last = cur
		span.Count++
		next++
	}
	return next, span, nil
}
