package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

// Options: JSON 编解码选项。
type Options struct {
	// Indent: 每级缩进空格数；<=0 使用默认 2。
	Indent int `json:"indent,omitempty"`
	// TrailingNewline: 文末是否追加换行（默认不追加）。
	TrailingNewline bool `json:"trailing_newline,omitempty"`
}

// Codec 基于 encoding/json 的 Token 流实现有序解码；编码为手写缩进输出，
// 格式：两空格缩进、", " 之后换行、": " 分隔键值，非 ASCII 原样输出，不做 HTML 转义。
type Codec struct {
	indent  int
	trailNL bool
}

// New 创建 JSON 编解码器。
func New(opts *Options) *Codec {
	c := &Codec{indent: 2}
	if opts != nil {
		if opts.Indent > 0 {
			c.indent = opts.Indent
		}
		c.trailNL = opts.TrailingNewline
	}
	return c
}

var _ contract.Codec = (*Codec)(nil)

func (c *Codec) Name() string { return "json" }

func (c *Codec) Extensions() []string { return []string{".json"} }

// Decode 解析单个 JSON 值；映射保留键顺序（重复键：后值覆盖前值，位置取首次出现处）。
// 语法错误、空输入、顶层值之后的多余内容均归类为 ErrParse。
func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, parseErr(fileID, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, parseErr(fileID, err)
	}
	return v, nil
}

func parseErr(fileID contract.FileID, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%s: %w: %v", fileID, contract.ErrParse, err)
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			rec := contract.NewRecord()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				rec.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // '}'
				return nil, err
			}
			return rec, nil
		case '[':
			seq := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				seq = append(seq, val)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return nil, err
			}
			return seq, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case json.Number:
		return contract.Number(t), nil
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected token %T", tok)
	}
}

// Encode 写出值树。
func (c *Codec) Encode(ctx context.Context, w io.Writer, v any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	bw := bufio.NewWriter(w)
	if err := c.encodeValue(bw, v, 0); err != nil {
		return err
	}
	if c.trailNL {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (c *Codec) encodeValue(w *bufio.Writer, v any, depth int) error {
	switch x := v.(type) {
	case nil:
		_, err := w.WriteString("null")
		return err
	case bool:
		if x {
			_, err := w.WriteString("true")
			return err
		}
		_, err := w.WriteString("false")
		return err
	case contract.Number:
		if x == "" {
			return errors.New("jsonfile: empty number literal")
		}
		_, err := w.WriteString(string(x))
		return err
	case string:
		return writeString(w, x)
	case []any:
		if len(x) == 0 {
			_, err := w.WriteString("[]")
			return err
		}
		w.WriteByte('[')
		for i, it := range x {
			if i > 0 {
				w.WriteByte(',')
			}
			c.newline(w, depth+1)
			if err := c.encodeValue(w, it, depth+1); err != nil {
				return err
			}
		}
		c.newline(w, depth)
		return w.WriteByte(']')
	case *contract.Record:
		if x.Len() == 0 {
			_, err := w.WriteString("{}")
			return err
		}
		w.WriteByte('{')
		for i, f := range x.Fields {
			if i > 0 {
				w.WriteByte(',')
			}
			c.newline(w, depth+1)
			if err := writeString(w, f.Key); err != nil {
				return err
			}
			w.WriteString(": ")
			if err := c.encodeValue(w, f.Value, depth+1); err != nil {
				return err
			}
		}
		c.newline(w, depth)
		return w.WriteByte('}')
	default:
		return fmt.Errorf("jsonfile: unsupported value %T", v)
	}
}

func (c *Codec) newline(w *bufio.Writer, depth int) {
	w.WriteByte('\n')
	w.WriteString(strings.Repeat(" ", depth*c.indent))
}

const hexDigits = "0123456789abcdef"

// writeString: 仅转义引号、反斜杠与控制字符，其余字符（含非 ASCII）原样输出。
func writeString(w *bufio.Writer, s string) error {
	w.WriteByte('"')
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			switch b {
			case '"':
				w.WriteString(`\"`)
			case '\\':
				w.WriteString(`\\`)
			case '\n':
				w.WriteString(`\n`)
			case '\r':
				w.WriteString(`\r`)
			case '\t':
				w.WriteString(`\t`)
			case '\b':
				w.WriteString(`\b`)
			case '\f':
				w.WriteString(`\f`)
			default:
				if b < 0x20 {
					w.WriteString(`\u00`)
					w.WriteByte(hexDigits[b>>4])
					w.WriteByte(hexDigits[b&0xF])
				} else {
					w.WriteByte(b)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			w.WriteString(`�`)
		} else {
			w.WriteString(s[i : i+size])
		}
		i += size
	}
	return w.WriteByte('"')
}
