package contract

import (
	"context"
	"io"
)

// Codec: 结构化数据编解码（JSON/YAML 等）。
// Decode 产出与编码无关的值树（见 Record 注释）；映射一律解码为 *Record 以保留字段顺序。
// Encode 按相同约定写回；非 ASCII 字符按原文输出。
type Codec interface {
	// Name 返回注册名。
	Name() string
	// Extensions 返回处理的小写扩展名（含点）。
	Extensions() []string
	Decode(ctx context.Context, fileID FileID, r io.Reader) (any, error)
	Encode(ctx context.Context, w io.Writer, v any) error
}
