package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "CARDRENUM_"

// DefaultInputs: 未指定输入时处理的卡牌文件。
var DefaultInputs = []string{
	"lirya-common-cards.json",
	"lirya-uncommon-cards.json",
	"lirya-rare-cards.json",
	"lirya-legendary-ultra-rare-cards.json",
}

// Defaults 返回带有默认值的 Config。
func Defaults() Config {
	start := int64(5)
	preview := 10
	prefix := "updated_"
	return Config{
		Inputs:     cloneStrings(DefaultInputs),
		StartID:    &start,
		WrapKeys:   []string{"common_cards"},
		IDField:    "id",
		RefField:   "img",
		Separator:  "_",
		Preview:    &preview,
		OutputDir:  ".",
		Prefix:     &prefix,
		Logging:    Logging{Level: "info"},
		Components: Components{Reader: "fs", Codec: "auto", Writer: "fs"},
	}
}

// Load 从文件解析 Config（严格拒绝未知字段）。
// .yaml/.yml 先解析为通用树再转为 JSON，与 JSON 配置走同一严格解码路径。
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(raw)
	default:
		return LoadJSON(raw)
	}
}

// LoadJSON 解析原始 JSON 配置。
func LoadJSON(raw []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadYAML 解析原始 YAML 配置。
func LoadYAML(raw []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if tree == nil {
		return Config{}, errors.New("config: empty document")
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return LoadJSON(b)
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/原样 JSON 为替换，不做深度合并；空值视为未设置。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.StartID != nil {
		v := *over.StartID
		out.StartID = &v
	}
	if len(over.WrapKeys) > 0 {
		out.WrapKeys = cloneStrings(over.WrapKeys)
	}
	if s := strings.TrimSpace(over.IDField); s != "" {
		out.IDField = s
	}
	if s := strings.TrimSpace(over.RefField); s != "" {
		out.RefField = s
	}
	if over.Separator != "" {
		out.Separator = over.Separator
	}
	if over.Preview != nil {
		v := *over.Preview
		out.Preview = &v
	}
	if s := strings.TrimSpace(over.OutputDir); s != "" {
		out.OutputDir = s
	}
	if over.Prefix != nil {
		v := *over.Prefix
		out.Prefix = &v
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Codec != "" {
		out.Components.Codec = over.Components.Codec
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Codec) > 0 {
		m := make(map[string]json.RawMessage, len(out.Options.Codec)+len(over.Options.Codec))
		for k, v := range out.Options.Codec {
			m[k] = v
		}
		for k, v := range over.Options.Codec {
			m[k] = cloneRaw(v)
		}
		out.Options.Codec = m
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 CARDRENUM_；集合之外的键忽略；数值非法时报错。
// 支持：INPUTS, START_ID, WRAP_KEYS, ID_FIELD, REF_FIELD, SEPARATOR, PREVIEW, OUTPUT_DIR,
// PREFIX（允许空值以关闭前缀）, LOG_LEVEL, COMPONENTS_{READER,CODEC,WRITER},
// OPTIONS_{READER,WRITER}_JSON, OPTIONS_CODEC__<name>_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "START_ID":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return Config{}, fmt.Errorf("config: %s%s: %w", EnvPrefix, nk, err)
			}
			over.StartID = &v
		case "WRAP_KEYS":
			over.WrapKeys = splitComma(val)
		case "ID_FIELD":
			over.IDField = strings.TrimSpace(val)
		case "REF_FIELD":
			over.RefField = strings.TrimSpace(val)
		case "SEPARATOR":
			over.Separator = val
		case "PREVIEW":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return Config{}, fmt.Errorf("config: %s%s: %w", EnvPrefix, nk, err)
			}
			over.Preview = &v
		case "OUTPUT_DIR":
			over.OutputDir = strings.TrimSpace(val)
		case "PREFIX":
			v := val
			over.Prefix = &v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_CODEC":
			over.Components.Codec = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(val)
		default:
			// OPTIONS_CODEC__<name>_JSON
			if name, ok := strings.CutPrefix(nk, "OPTIONS_CODEC__"); ok {
				name, ok = strings.CutSuffix(name, "_JSON")
				if !ok || name == "" {
					continue
				}
				if raw := rawOrNil(val); raw != nil {
					if over.Options.Codec == nil {
						over.Options.Codec = map[string]json.RawMessage{}
					}
					over.Options.Codec[strings.ToLower(name)] = raw
				}
			}
		}
	}
	return over, nil
}

func rawOrNil(s string) json.RawMessage {
	// 空值视为未设置，避免清空现有配置
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
