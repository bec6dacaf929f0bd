package renumber

import "strconv"

// PatchReference 将 ref 中第一个“紧跟分隔符的最长十进制数字串”替换为 newID 的十进制文本。
// 分隔符及其后的内容保持不变；不存在这样的数字串时原样返回（ok=false）。
//
//	PatchReference("12_guardia.png", 5, '_')      => "5_guardia.png", true
//	PatchReference("cards/12_guardia.png", 5, '_') => "cards/5_guardia.png", true
//	PatchReference("v2/12_a.png", 5, '_')          => "v2/5_a.png", true
//	PatchReference("guardia.png", 5, '_')          => "guardia.png", false
func PatchReference(ref string, newID int64, sep byte) (string, bool) {
	n := len(ref)
	for i := 0; i < n; {
		if !isDigit(ref[i]) {
			i++
			continue
		}
		j := i + 1
		for j < n && isDigit(ref[j]) {
			j++
		}
		if j < n && ref[j] == sep {
			return ref[:i] + strconv.FormatInt(newID, 10) + ref[j:], true
		}
		// 整段数字未紧跟分隔符：其内部任何起点也不会命中，直接跳过
		i = j
	}
	return ref, false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
