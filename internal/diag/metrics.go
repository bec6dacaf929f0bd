package diag

import (
	"fmt"
	"sort"
	"sync"
)

// 进程内指标（计数器 + 累计耗时），无导出端点；CLI 在 debug 级别下写入日志。
// 名称：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}
var metrics = struct {
	mu sync.Mutex
	m  map[string]int64
}{m: map[string]int64{}}

func addMetric(key string, v int64) {
	metrics.mu.Lock()
	metrics.m[key] += v
	metrics.mu.Unlock()
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	addMetric(fmt.Sprintf("op_total{comp=%s,stage=%s,result=%s}", comp, stage, result), 1)
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	addMetric(fmt.Sprintf("error_total{comp=%s,code=%s}", comp, code), 1)
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	addMetric(fmt.Sprintf("op_duration_ms{comp=%s,stage=%s}", comp, stage), durMS)
}

// Metric 为快照中的一项。
type Metric struct {
	Name  string
	Value int64
}

// SnapshotMetrics 按名称排序返回当前所有指标。
func SnapshotMetrics() []Metric {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	out := make([]Metric, 0, len(metrics.m))
	for k, v := range metrics.m {
		out = append(out, Metric{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetMetrics 清空所有指标。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.m = map[string]int64{}
	metrics.mu.Unlock()
}

// LogMetrics 以 debug 级别输出当前快照（仅 level=debug 时可见）。
func LogMetrics(l *Logger) {
	snap := SnapshotMetrics()
	if len(snap) == 0 {
		return
	}
	kv := make(map[string]string, len(snap))
	for _, m := range snap {
		kv[m.Name] = fmt.Sprintf("%d", m.Value)
	}
	l.DebugStart("metrics", "snapshot", "", kv)
}
