package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gianlucaricaldone/lirya-script/internal/diag"
	"github.com/gianlucaricaldone/lirya-script/internal/renumber"
	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

// - 严格串行：按输入顺序逐文件、文件内按记录顺序处理；不启动任何 goroutine。
// - 计数器跨文件串联：每个文件从上一个文件返回的计数器继续分配。
// - 首错即止：任一文件出错立即返回；此前已写出的文件保留，出错文件不写出。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader contract.Reader
	// Codecs 按扩展名选择；仅注册一个时对所有文件使用该编解码器。
	Codecs []contract.Codec
	Writer contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	// Start: 首个分配的 ID。
	Start int64
	// WrapKeys: 可识别的包裹键，按顺序首个命中者生效。
	WrapKeys []string
	Renumber renumber.Options
	// Preview: 总览中展示的映射条数。
	Preview int
}

// FileReport 为单个文件的处理结果。
type FileReport struct {
	Input  contract.FileID
	Output string
	Codec  string
	Shape  contract.Shape
	Span   renumber.Span
}

// Report 为一次运行的累计结果；出错时仅包含已成功写出的文件。
type Report struct {
	Start int64
	// Next: 下一个待分配的 ID（Start + 已处理记录数）。
	Next  int64
	Files []FileReport
	IDs   *renumber.IDMap
}

// Processed 返回已处理记录数。
func (r Report) Processed() int64 { return r.Next - r.Start }

// Summary 生成终端总览；preview 为映射预览条数上限。
func (r Report) Summary(preview int) diag.Summary {
	s := diag.Summary{Files: len(r.Files), Processed: r.Processed(), Start: r.Start, Next: r.Next}
	if r.IDs == nil {
		return s
	}
	head, more := r.IDs.Head(preview)
	for _, e := range head {
		s.Pairs = append(s.Pairs, diag.Pair{Old: e.Old, New: e.New})
	}
	s.More = more
	s.Duplicates = r.IDs.Duplicates()
	return s
}

// Run 执行完整流水线：Reader → Codec.Decode → Detect → Renumber → Codec.Encode → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	rep := Report{Start: set.Start, Next: set.Start, IDs: renumber.NewIDMap()}
	if err := sanity(comp, set); err != nil {
		return rep, fmt.Errorf("sanity: %w", err)
	}
	rn := renumber.New(set.Renumber)
	next := renumber.Counter(set.Start)
	// perFile 内的错误已在阶段内记录
	fileFailed := false

	perFile := func(fid contract.FileID, rc io.Reader) error {
		if t := diag.GetTerminal(); t != nil {
			t.FileStart(string(fid))
		}
		fileStart := time.Now()
		fr := FileReport{Input: fid}
		ok := false
		defer func() {
			fileFailed = !ok
			if t := diag.GetTerminal(); t != nil {
				t.FileFinish(ok, string(fid), fr.Output, fr.Span.Count, fr.Span.First, fr.Span.Last, time.Since(fileStart))
			}
		}()

		codec, err := pickCodec(comp.Codecs, fid)
		if err != nil {
			fail(logger, "codec", err, fid, nil)
			return err
		}
		fr.Codec = codec.Name()

		// 解析
		dt := logger.StartWith("codec", "decode", string(fid))
		root, err := codec.Decode(ctx, fid, rc)
		if err != nil {
			fail(logger, "codec", err, fid, dt.Since())
			return fmt.Errorf("codec decode: %w", err)
		}
		dt.Finish("decode", 0)
		diag.IncOp("codec", "decode", "success")

		// 形态识别
		coll, err := contract.Detect(root, set.WrapKeys)
		if err != nil {
			err = fmt.Errorf("%s: %w", fid, err)
			fail(logger, "shape", err, fid, nil)
			return err
		}
		fr.Shape = coll.Shape
		logger.DebugStart("shape", "detect", string(fid), map[string]string{
			"kind": coll.Shape.Kind.String(), "key": coll.Shape.Key, "records": fmt.Sprintf("%d", len(coll.Records)),
		})

		// 重编号 + 引用改写
		rt := logger.StartWith("renumber", "apply", string(fid))
		dupBefore := len(rep.IDs.Duplicates())
		after, span, err := rn.Apply(ctx, coll, next, rep.IDs)
		if err != nil {
			err = fmt.Errorf("%s: %w", fid, err)
			fail(logger, "renumber", err, fid, rt.Since())
			return err
		}
		rt.Finish("apply", int64(span.Count))
		diag.IncOp("renumber", "apply", "success")
		if dups := rep.IDs.Duplicates()[dupBefore:]; len(dups) > 0 {
			logger.Warn("renumber", "duplicate_id", "old id seen again; later mapping wins", string(fid), map[string]string{
				"old_ids": strings.Join(dups, ","),
			})
		}
		fr.Span = span

		// 编码（同形态、同格式）
		var buf bytes.Buffer
		if err := codec.Encode(ctx, &buf, coll.Value()); err != nil {
			fail(logger, "codec", err, fid, nil)
			return fmt.Errorf("codec encode: %s: %w", fid, err)
		}

		// 写出
		out, err := comp.Writer.Target(contract.ArtifactID(fid))
		if err != nil {
			fail(logger, "writer", err, fid, nil)
			return fmt.Errorf("writer target: %s: %w", fid, err)
		}
		fr.Output = out
		size := int64(buf.Len())
		wt := logger.StartWith("writer", "write", string(fid))
		if err := comp.Writer.Write(ctx, contract.ArtifactID(fid), &buf); err != nil {
			fail(logger, "writer", err, fid, wt.Since())
			return fmt.Errorf("writer write: %w", err)
		}
		wt.Finish("write", size)
		diag.IncOp("writer", "write", "success")
		diag.ObserveDuration("pipeline", "file", time.Since(fileStart).Milliseconds())

		next = after
		rep.Next = int64(next)
		rep.Files = append(rep.Files, fr)
		ok = true
		return nil
	}

	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := perFile(fid, rc); err != nil {
			return fmt.Errorf("perFile: %w", err)
		}
		return nil
	})
	if err != nil {
		if !fileFailed {
			fail(logger, "reader", err, "", rtimer.Since())
		}
		return rep, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(len(rep.Files)))
	diag.IncOp("reader", "iterate", "success")
	return rep, nil
}

// fail 记录阶段错误并累加指标。
func fail(logger *diag.Logger, comp string, err error, fid contract.FileID, since *time.Time) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), err.Error(), since, string(fid))
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// pickCodec 按扩展名选择编解码器；仅一个可用时直接使用。
func pickCodec(codecs []contract.Codec, fid contract.FileID) (contract.Codec, error) {
	if len(codecs) == 1 {
		return codecs[0], nil
	}
	ext := fid.Ext()
	for _, c := range codecs {
		for _, e := range c.Extensions() {
			if strings.EqualFold(e, ext) {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s: no codec for extension %q", contract.ErrInvalidInput, fid, ext)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || len(c.Codecs) == 0 || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	for _, cd := range c.Codecs {
		if cd == nil {
			return errors.New("pipeline: nil codec")
		}
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
