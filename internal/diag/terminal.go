package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// - 进度行（[run]/[file]）受 progress 开关控制；TTY 下处理中状态单行 \r 覆盖。
// - 结束总览（合计、映射预览、重复告警）总是输出。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w        io.Writer
	enabled  bool
	progress bool
	isTTY    bool

	filesDone int
	curFileID string
	lastLen   int

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；w 为 nil 时写 stdout。
func NewTerminal(w io.Writer, progress bool) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{w: w, enabled: true, progress: progress}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// Pair 为预览中的一条 旧ID→新ID。
type Pair struct {
	Old string
	New int64
}

// Summary 为运行结束时的总览数据。
type Summary struct {
	Files      int
	Processed  int64
	Start      int64
	Next       int64
	Pairs      []Pair
	More       bool
	Duplicates []string
}

// RunStart: 起始提示。
func (t *Terminal) RunStart(inputs int, start int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesDone = 0
	if !t.progress {
		return
	}
	t.println(fmt.Sprintf("[run] 输入 %d | 起始 ID %d", inputs, start))
}

// FileStart: 标记当前文件。
func (t *Terminal) FileStart(fileID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curFileID = shortenBase(fileID, 48)
	if t.progress && t.isTTY {
		t.printInline(fmt.Sprintf("[file] %s | 处理中…", t.curFileID))
	}
}

// FileFinish: 完成当前文件（成功时打印输出路径、记录数与 ID 区间）。
func (t *Terminal) FileFinish(ok bool, in, out string, count int, first, last int64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.filesDone++
	}
	if !t.progress {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	if !ok {
		t.println(fmt.Sprintf("[fail] %s | 用时 %s", safe(in), formatDur(dur)))
		return
	}
	t.println(fmt.Sprintf("[file] %s -> %s | 记录 %d | ID %s | 用时 %s",
		safe(in), safe(out), count, idRange(int64(count), first, last), formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, s Summary, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	if !ok {
		t.println(fmt.Sprintf("[fail] 已中止 | 完成文件 %d | 已处理记录 %d | 总用时 %s", t.filesDone, s.Processed, formatDur(dur)))
		return
	}
	t.println(fmt.Sprintf("[ok] 全部完成 | 文件 %d | 记录 %d | ID %s | 下一个 ID %d | 总用时 %s",
		s.Files, s.Processed, idRange(s.Processed, s.Start, s.Next-1), s.Next, formatDur(dur)))
	if len(s.Pairs) > 0 {
		t.println("映射预览（旧 ID -> 新 ID）:")
		for _, p := range s.Pairs {
			t.println(fmt.Sprintf("  %s -> %d", safe(p.Old), p.New))
		}
		if s.More {
			t.println("  ...")
		}
	}
	if len(s.Duplicates) > 0 {
		t.println(fmt.Sprintf("[warn] 重复旧 ID（后值覆盖） %d: %s", len(s.Duplicates), safe(strings.Join(s.Duplicates, ", "))))
	}
}

func idRange(n, first, last int64) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d..%d", first, last)
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	// 新行比旧行短时用空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if pad > 0 || s == "" {
		b.WriteByte('\r')
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
