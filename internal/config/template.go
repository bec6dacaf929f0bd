package config

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个可直接运行的默认配置模板：
// - 输入为默认的四个卡牌文件，起始 ID 为 5；
// - 输出写入当前目录，文件名加 updated_ 前缀；
// - 组件选项列出全部键（值为中性默认）。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Options.Reader = json.RawMessage(`{"buf_size": 65536, "extensions": [".json", ".yaml", ".yml"]}`)
	cfg.Options.Codec = map[string]json.RawMessage{
		"json": json.RawMessage(`{"indent": 2, "trailing_newline": false}`),
		"yaml": json.RawMessage(`{"indent": 2}`),
	}
	cfg.Options.Writer = json.RawMessage(`{"atomic": true, "flat": true, "perm_file": 0, "perm_dir": 0, "buf_size": 65536}`)
	return cfg
}

// MarshalJSON 输出两空格缩进的 JSON 配置。
func MarshalJSON(cfg Config) ([]byte, error) {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// MarshalYAML 输出 YAML 配置：经 JSON 中转，键顺序与 JSON 一致。
func MarshalYAML(cfg Config) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	plain(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// plain 去掉 JSON 带来的引号与流式风格；歧义字符串由编码器自行加引号。
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}
