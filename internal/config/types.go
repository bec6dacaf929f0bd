package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；未知字段在解析期失败。指针字段区分“未设置”与零值。
type Config struct {
	Inputs []string `json:"inputs"`
	// StartID: 首个分配的 ID（默认 5）。
	StartID *int64 `json:"start_id,omitempty"`
	// WrapKeys: 可识别的包裹键（默认 ["common_cards"]）。
	WrapKeys  []string `json:"wrap_keys"`
	IDField   string   `json:"id_field"`
	RefField  string   `json:"ref_field"`
	Separator string   `json:"separator"`
	// Preview: 总览中的映射预览条数（默认 10）。
	Preview *int `json:"preview,omitempty"`
	// OutputDir/Prefix: 输出位置与文件名前缀，注入 writer options。
	OutputDir string  `json:"output_dir"`
	Prefix    *string `json:"prefix,omitempty"`

	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
// Codec 为 "auto" 时按扩展名在全部已注册编解码器中选择。
type Components struct {
	Reader string `json:"reader"`
	Codec  string `json:"codec"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options；Codec 按编解码器名分组。
type Options struct {
	Reader json.RawMessage            `json:"reader,omitempty"`
	Codec  map[string]json.RawMessage `json:"codec,omitempty"`
	Writer json.RawMessage            `json:"writer,omitempty"`
}
