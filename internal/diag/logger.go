package diag

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogDir 为默认日志目录；当前文件按 10 MiB 轮转。
const LogDir = "logs"

// Logger 为结构化日志器：zap JSON core，单行事件写入轮转文件。
// 事件字段：comp/stage/file_id/code/dur_ms/count/kv/corr_id。
// nil *Logger 的所有方法均为 no-op。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/，10 MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile(LogDir, 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 WriteSyncer（测试可传入内存缓冲）。
func NewLoggerTo(ws zapcore.WriteSyncer, corrID, level string) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTime,
		EncodeDuration: zapcore.MillisDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(ws), parseLevel(level))
	z := zap.New(core)
	if corrID != "" {
		z = z.With(zap.String("corr_id", corrID))
	}
	return &Logger{z: z}
}

// NewNop 返回丢弃所有事件的日志器。
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel 报告 s 是否为可识别的日志级别。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Event 为标准事件的可选字段。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	KV     map[string]string
}

func (e Event) fields() []zap.Field {
	fs := make([]zap.Field, 0, 7)
	fs = append(fs, zap.String("comp", e.Comp), zap.String("stage", e.Stage))
	if e.Code != "" {
		fs = append(fs, zap.String("code", e.Code))
	}
	if e.DurMS != 0 {
		fs = append(fs, zap.Int64("dur_ms", e.DurMS))
	}
	if e.Count != 0 {
		fs = append(fs, zap.Int64("count", e.Count))
	}
	if e.FileID != "" {
		fs = append(fs, zap.String("file_id", e.FileID))
	}
	if len(e.KV) > 0 {
		fs = append(fs, zap.Any("kv", e.KV))
	}
	return fs
}

func (l *Logger) log(lv zapcore.Level, msg string, ev Event) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(ev.fields()...)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, Event{Comp: comp, Stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(zapcore.InfoLevel, msg, Event{Comp: comp, Stage: "start", FileID: fileID})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWith(comp, code, msg, durSince, "")
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zapcore.ErrorLevel, msg, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, FileID: fileID})
}

// Warn 记录告警（例如重复旧 ID 被覆盖）。
func (l *Logger) Warn(comp, code, msg, fileID string, kv map[string]string) {
	l.log(zapcore.WarnLevel, msg, Event{Comp: comp, Stage: "warn", Code: code, FileID: fileID, KV: kv})
}

// DebugStart 输出调试级别的 start 类事件（仅 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, Event{Comp: comp, Stage: "start", FileID: fileID, KV: kv})
}

// Sync 刷新缓冲并关闭文件句柄（若有）。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Since 返回计时起点，供 ErrorWith 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zapcore.InfoLevel, msg, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID})
}
