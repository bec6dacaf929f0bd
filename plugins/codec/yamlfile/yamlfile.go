package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
)

// Options: YAML 编解码选项。
type Options struct {
	// Indent: 缩进空格数；<=0 使用默认 2。
	Indent int `json:"indent,omitempty"`
}

// Codec 通过 yaml.Node 树解码，保留映射键顺序；仅处理单文档。
type Codec struct {
	indent int
}

// New 创建 YAML 编解码器。
func New(opts *Options) *Codec {
	c := &Codec{indent: 2}
	if opts != nil && opts.Indent > 0 {
		c.indent = opts.Indent
	}
	return c
}

var _ contract.Codec = (*Codec)(nil)

func (c *Codec) Name() string { return "yaml" }

func (c *Codec) Extensions() []string { return []string{".yaml", ".yml"} }

// Decode 解析首个 YAML 文档。空文档与语法错误归类为 ErrParse。
func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty document")
		}
		return nil, fmt.Errorf("%s: %w: %v", fileID, contract.ErrParse, err)
	}
	v, err := newExpander().fromNode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", fileID, contract.ErrParse, err)
	}
	return v, nil
}

// expander 将节点树转为值树。别名按引用展开：
// 指向正在展开中的容器即为循环引用；展开节点占比过高视为别名炸弹，
// 阈值与 yaml.v3 解码到 Go 值时的 allowedAliasRatio 一致。
type expander struct {
	active     map[*yaml.Node]bool
	aliasDepth int
	// decodeCount: 已转换节点数；aliasCount: 其中经别名展开的节点数
	decodeCount int
	aliasCount  int
}

func newExpander() *expander { return &expander{active: map[*yaml.Node]bool{}} }

func allowedAliasRatio(decodeCount int) float64 {
	switch {
	case decodeCount <= 400000:
		return 0.99
	case decodeCount >= 4000000:
		return 0.10
	default:
		return 0.99 - 0.89*(float64(decodeCount-400000)/3600000)
	}
}

func (e *expander) fromNode(n *yaml.Node) (any, error) {
	e.decodeCount++
	if e.aliasDepth > 0 {
		e.aliasCount++
	}
	if e.aliasCount > 100 && e.decodeCount > 1000 && float64(e.aliasCount)/float64(e.decodeCount) > allowedAliasRatio(e.decodeCount) {
		return nil, errors.New("document contains excessive aliasing")
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, errors.New("empty document")
		}
		return e.fromNode(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: unknown alias %q", n.Line, n.Value)
		}
		// 锚点容器仍在展开中：别名指向自身或祖先
		if e.active[n.Alias] {
			return nil, fmt.Errorf("line %d: recursive alias %q", n.Line, n.Value)
		}
		e.aliasDepth++
		v, err := e.fromNode(n.Alias)
		e.aliasDepth--
		return v, err
	case yaml.SequenceNode:
		e.active[n] = true
		defer delete(e.active, n)
		seq := make([]any, 0, len(n.Content))
		for _, it := range n.Content {
			v, err := e.fromNode(it)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	case yaml.MappingNode:
		e.active[n] = true
		defer delete(e.active, n)
		rec := contract.NewRecord()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: non-scalar mapping key", k.Line)
			}
			// 合并键（<<）按普通键处理，不展开
			val, err := e.fromNode(v)
			if err != nil {
				return nil, err
			}
			rec.Set(k.Value, val)
		}
		return rec, nil
	case yaml.ScalarNode:
		return fromScalar(n)
	default:
		return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
	}
}

func fromScalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!int", "!!float":
		return contract.Number(n.Value), nil
	default:
		return n.Value, nil
	}
}

// Encode 将值树写为单个 YAML 文档。
func (c *Codec) Encode(ctx context.Context, w io.Writer, v any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	n, err := toNode(v)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(c.indent)
	if err := enc.Encode(n); err != nil {
		return err
	}
	return enc.Close()
}

func toNode(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case bool:
		val := "false"
		if x {
			val = "true"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: val}, nil
	case contract.Number:
		if x == "" {
			return nil, errors.New("yamlfile: empty number literal")
		}
		tag := "!!int"
		lit := strings.ToLower(string(x))
		if strings.Contains(lit, ".") || (strings.Contains(lit, "e") && !strings.HasPrefix(lit, "0x")) {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(x)}, nil
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: x}, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range x {
			c, err := toNode(it)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	case *contract.Record:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, f := range x.Fields {
			val, err := toNode(f.Value)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}, val)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("yamlfile: unsupported value %T", v)
	}
}
