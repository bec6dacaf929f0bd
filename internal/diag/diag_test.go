package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m), ln)
		out = append(out, m)
	}
	return out
}

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	_, err := w.Write([]byte("first line that is very long\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var current, rotated bool
	for _, e := range ents {
		switch {
		case e.Name() == "cardrenum-current.txt":
			current = true
		case strings.HasPrefix(e.Name(), "cardrenum-") && strings.HasSuffix(e.Name(), ".txt"):
			rotated = true
		}
	}
	assert.True(t, current && rotated, "current=%v rotated=%v", current, rotated)

	b, _ := os.ReadFile(filepath.Join(dir, "cardrenum-current.txt"))
	assert.Equal(t, "second\n", string(b))
}

// 单条超过上限的事件不触发空文件轮转
func TestRotatingFileOversizedFirstWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	_, err := w.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	ents, _ := os.ReadDir(dir)
	assert.Len(t, ents, 1)
}

// 默认 maxBytes 与 f==nil 时的 rotate
func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	w := NewRotatingFile(t.TempDir(), 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes)
	assert.NoError(t, w.Sync())
	require.NoError(t, w.rotate())
	require.NotNil(t, w.f)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestLoggerEventShape(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(zapcore.AddSync(&buf), "corr-1", "debug")

	tm := l.StartWith("pipeline", "file", "a.json")
	tm.Finish("done", 3)
	since := time.Now().Add(-5 * time.Millisecond)
	l.ErrorWith("codec", string(CodeParse), "bad", &since, "b.json")
	l.Warn("renumber", "duplicate", "old id overwritten", "c.json", map[string]string{"old": "1"})
	l.DebugStart("reader", "open", "d.json", nil)

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 5)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "corr-1", lines[0]["corr_id"])
	assert.Equal(t, "pipeline", lines[0]["comp"])
	assert.Equal(t, "start", lines[0]["stage"])
	assert.Equal(t, "a.json", lines[0]["file_id"])
	_, err := time.Parse(time.RFC3339, lines[0]["ts"].(string))
	assert.NoError(t, err)

	assert.Equal(t, "finish", lines[1]["stage"])
	assert.EqualValues(t, 3, lines[1]["count"])

	assert.Equal(t, "error", lines[2]["level"])
	assert.Equal(t, "parse", lines[2]["code"])
	assert.Equal(t, "b.json", lines[2]["file_id"])
	assert.Greater(t, lines[2]["dur_ms"], float64(0))

	assert.Equal(t, "warn", lines[3]["level"])
	assert.Equal(t, map[string]any{"old": "1"}, lines[3]["kv"])

	assert.Equal(t, "debug", lines[4]["level"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(zapcore.AddSync(&buf), "", "warn")
	l.Start("c", "hidden").Finish("hidden", 0)
	l.DebugStart("c", "hidden", "", nil)
	l.Error("c", "io", "shown", nil)

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
	_, hasCorr := lines[0]["corr_id"]
	assert.False(t, hasCorr)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel(" DEBUG "))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.True(t, ValidLevel("Warn"))
	assert.False(t, ValidLevel("trace"))
}

// nil 接收者与 NewNop 均为 no-op
func TestLoggerNilAndNop(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("m", 1)
	l.Warn("c", "x", "m", "", nil)
	assert.NoError(t, l.Sync())

	n := NewNop()
	n.StartWith("c", "m", "f").Finish("m", 0)
	assert.NoError(t, n.Sync())

	var tm *Timer
	tm.Finish("x", 0)
	assert.Nil(t, tm.Since())
	(&Timer{}).Finish("x", 0)
}

// NewLogger 写入 logs/cardrenum-current.txt
func TestLoggerWithSink(t *testing.T) {
	wd, _ := os.Getwd()
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	l := NewLogger("corr", "info")
	l.Start("comp", "msg").Finish("ok", 1)
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(filepath.Join(dir, LogDir, "cardrenum-current.txt"))
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, b), 2)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("a.json: %w: eof", contract.ErrParse), CodeParse},
		{fmt.Errorf("a.json: %w", contract.ErrSchema), CodeSchema},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&os.LinkError{Op: "rename", Old: "a", New: "b", Err: errors.New("x")}, CodeIO},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

func TestMetrics(t *testing.T) {
	ResetMetrics()
	t.Cleanup(ResetMetrics)
	IncOp("pipeline", "file", "success")
	IncOp("pipeline", "file", "success")
	IncError("pipeline", "parse")
	ObserveDuration("pipeline", "file", 7)
	ObserveDuration("pipeline", "file", 3)

	want := []Metric{
		{Name: "error_total{comp=pipeline,code=parse}", Value: 1},
		{Name: "op_duration_ms{comp=pipeline,stage=file}", Value: 10},
		{Name: "op_total{comp=pipeline,stage=file,result=success}", Value: 2},
	}
	assert.Equal(t, want, SnapshotMetrics())

	var buf bytes.Buffer
	LogMetrics(NewLoggerTo(zapcore.AddSync(&buf), "", "debug"))
	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "metrics", lines[0]["comp"])

	ResetMetrics()
	assert.Empty(t, SnapshotMetrics())
	buf.Reset()
	LogMetrics(NewLoggerTo(zapcore.AddSync(&buf), "", "debug"))
	assert.Zero(t, buf.Len())
}

// 终端（非 TTY）完整流程
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)

	term.RunStart(2, 5)
	term.FileStart("data/lirya-common-cards.json")
	term.FileFinish(true, "data/lirya-common-cards.json", "updated_lirya-common-cards.json", 2, 5, 6, 5100*time.Millisecond)
	term.FileStart("bare.json")
	term.FileFinish(true, "bare.json", "updated_bare.json", 1, 7, 7, 3*time.Millisecond)
	term.RunFinish(true, Summary{
		Files: 2, Processed: 3, Start: 5, Next: 8,
		Pairs:      []Pair{{Old: "1", New: 7}, {Old: "2", New: 6}},
		More:       true,
		Duplicates: []string{"1"},
	}, 41300*time.Millisecond)

	want := strings.Join([]string{
		"[run] 输入 2 | 起始 ID 5",
		"[file] data/lirya-common-cards.json -> updated_lirya-common-cards.json | 记录 2 | ID 5..6 | 用时 5.1s",
		"[file] bare.json -> updated_bare.json | 记录 1 | ID 7..7 | 用时 3ms",
		"[ok] 全部完成 | 文件 2 | 记录 3 | ID 5..7 | 下一个 ID 8 | 总用时 41.3s",
		"映射预览（旧 ID -> 新 ID）:",
		"  1 -> 7",
		"  2 -> 6",
		"  ...",
		"[warn] 重复旧 ID（后值覆盖） 1: 1",
		"",
	}, "\n")
	assert.Equal(t, want, sb.String())
}

// progress=false 时仅输出总览
func TestTerminalQuietPrintsSummaryOnly(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, false)
	term.RunStart(1, 5)
	term.FileStart("a.json")
	term.FileFinish(true, "a.json", "updated_a.json", 0, 5, 4, 0)
	term.RunFinish(true, Summary{Files: 1, Start: 5, Next: 5}, 0)
	assert.Equal(t, "[ok] 全部完成 | 文件 1 | 记录 0 | ID - | 下一个 ID 5 | 总用时 0ms\n", sb.String())
}

func TestTerminalFailure(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.FileStart("a.json")
	term.FileFinish(true, "a.json", "updated_a.json", 1, 5, 5, 0)
	term.FileStart("b.json")
	term.FileFinish(false, "b.json", "", 0, 0, 0, 2200*time.Millisecond)
	term.RunFinish(false, Summary{Processed: 1}, 0)
	out := sb.String()
	assert.Contains(t, out, "[fail] b.json | 用时 2.2s\n")
	assert.Contains(t, out, "[fail] 已中止 | 完成文件 1 | 已处理记录 1 | 总用时 0ms\n")
	assert.NotContains(t, out, "映射预览")
}

// TTY 下处理中状态以 \r 覆盖，完成前清尾
func TestTerminalTTYInlineAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.FileStart("/a/b/c/longfilename.json")
	first := sb.String()
	assert.True(t, strings.HasPrefix(first, "\r[file] longfilename.json | 处理中…"), "%q", first)

	term.FileFinish(true, "longfilename.json", "updated_longfilename.json", 1, 5, 5, 0)
	final := sb.String()
	idx := strings.LastIndex(final, "[file] longfilename.json ->")
	require.Greater(t, idx, 0)
	seg := final[len(first):idx]
	assert.True(t, strings.HasPrefix(seg, "\r "), "clear tail should write spaces after CR: %q", seg)
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.RunStart(1, 5)
	assert.False(t, term.enabled)
	term.FileStart("a")
	term.FileFinish(true, "a", "b", 0, 0, 0, 0)
	term.RunFinish(true, Summary{}, 0)

	fw = &flakyWriter{fail: true}
	tty := NewTerminal(fw, true)
	tty.isTTY = true
	tty.FileStart("f.json")
	assert.False(t, tty.enabled)
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, 5)
	tn.FileStart("a")
	tn.FileFinish(true, "a", "b", 1, 5, 5, 0)
	tn.RunFinish(true, Summary{}, 0)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	term := NewTerminal(os.Stdout, true)
	assert.False(t, term.isTTY)
	assert.NotNil(t, NewTerminal(nil, false).w)
}

func TestGlobalTerminal(t *testing.T) {
	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	t1 := NewTerminal(&strings.Builder{}, false)
	SetTerminal(t1)
	assert.Same(t, t1, GetTerminal())
	SetTerminal(nil)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "这是一个很长的文件名用…", shortenBase("/x/y/这是一个很长的文件名用于截断测试.json", 12))
	assert.Equal(t, "", shortenBase("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	assert.Equal(t, "-", idRange(0, 5, 4))
	assert.Equal(t, "5..9", idRange(5, 5, 9))
}
