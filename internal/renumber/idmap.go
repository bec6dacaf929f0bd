package renumber

import (
	"fmt"
	"strconv"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

// Entry: 旧 ID → 新 ID 的一条映射。
type Entry struct {
	Old string
	New int64
}

// IDMap 记录整个运行期间的旧 ID → 新 ID 映射。
// - 顺序为旧 ID 首次出现的顺序；
// - 同一旧 ID 再次出现时原位覆盖（后写者胜），并记入 Duplicates 以便上报。
type IDMap struct {
	entries []Entry
	index   map[string]int
	dups    []string
}

// NewIDMap 创建空映射。
func NewIDMap() *IDMap {
	return &IDMap{index: make(map[string]int)}
}

// Put 写入映射；返回是否覆盖了已有旧 ID。
func (m *IDMap) Put(old string, newID int64) bool {
	if i, ok := m.index[old]; ok {
		m.entries[i].New = newID
		m.dups = append(m.dups, old)
		return true
	}
	m.index[old] = len(m.entries)
	m.entries = append(m.entries, Entry{Old: old, New: newID})
	return false
}

// Get 查询旧 ID 的当前映射。
func (m *IDMap) Get(old string) (int64, bool) {
	i, ok := m.index[old]
	if !ok {
		return 0, false
	}
	return m.entries[i].New, true
}

// Len 返回不同旧 ID 的数量。
func (m *IDMap) Len() int { return len(m.entries) }

// Entries 返回映射副本（按首次出现顺序）。
func (m *IDMap) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Head 返回前 n 条映射，以及是否还有更多。
func (m *IDMap) Head(n int) ([]Entry, bool) {
	if n < 0 {
		n = 0
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, n)
	copy(out, m.entries[:n])
	return out, len(m.entries) > n
}

// Duplicates 返回被覆盖过的旧 ID（按覆盖发生顺序，可重复）。
func (m *IDMap) Duplicates() []string {
	out := make([]string, len(m.dups))
	copy(out, m.dups)
	return out
}

// KeyOf 将旧 id 值转为映射键。
// 数值按字面量原文；字符串加引号以免与同文本的数值混淆；容器类型不可作为 id。
func KeyOf(v any) (string, error) {
	switch x := v.(type) {
	case contract.Number:
		return string(x), nil
	case string:
		return strconv.Quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case nil:
		return "null", nil
	default:
		return "", fmt.Errorf("%w: id must be a scalar, got %T", contract.ErrSchema, v)
	}
}
