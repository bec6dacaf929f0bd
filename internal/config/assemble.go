package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gianlucaricaldone/lirya-script/internal/diag"
	"github.com/gianlucaricaldone/lirya-script/internal/pipeline"
	"github.com/gianlucaricaldone/lirya-script/internal/renumber"
	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
	"github.com/gianlucaricaldone/lirya-script/pkg/registry"
)

// CodecAuto: 按扩展名在全部已注册编解码器中选择。
const CodecAuto = "auto"

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	for _, r := range cfg.Inputs {
		switch strings.TrimSpace(r) {
		case "":
			return errors.New("config: input path cannot be empty")
		case "-":
			// 输出文件名取自输入基名，STDIN 无法命名
			return errors.New("config: stdin input '-' is not supported")
		}
	}
	if cfg.StartID == nil || *cfg.StartID < 0 {
		return errors.New("config: start_id must be >= 0")
	}
	if cfg.Preview == nil || *cfg.Preview < 0 {
		return errors.New("config: preview must be >= 0")
	}
	for _, k := range cfg.WrapKeys {
		if strings.TrimSpace(k) == "" {
			return errors.New("config: wrap key cannot be empty")
		}
	}
	if strings.TrimSpace(cfg.IDField) == "" || strings.TrimSpace(cfg.RefField) == "" {
		return errors.New("config: id_field and ref_field must be set")
	}
	if len(cfg.Separator) != 1 || isDigit(cfg.Separator[0]) {
		return fmt.Errorf("config: separator must be a single non-digit ASCII character, got %q", cfg.Separator)
	}
	if strings.ContainsAny(derefString(cfg.Prefix), `/\`) {
		return fmt.Errorf("config: prefix %q must not contain path separators", derefString(cfg.Prefix))
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !diag.ValidLevel(lv) {
		return fmt.Errorf("config: unknown log level %q", lv)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Codec, d.Components.Codec); name != CodecAuto && registry.Codec[name] == nil {
		return fmt.Errorf("config: codec %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	for name := range cfg.Options.Codec {
		if registry.Codec[name] == nil {
			return fmt.Errorf("config: options for unknown codec %q", name)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处仅注入顶层 output_dir/prefix 与 reader 扩展名。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()

	// 编解码器
	cn := effName(cfg.Components.Codec, d.Components.Codec)
	names := []string{cn}
	if cn == CodecAuto {
		names = registry.CodecNames()
	}
	codecs := make([]contract.Codec, 0, len(names))
	var exts []string
	for _, n := range names {
		c, err := registry.Codec[n](cfg.Options.Codec[n])
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: codec %q options: %w", n, err)
		}
		codecs = append(codecs, c)
		exts = append(exts, c.Extensions()...)
	}

	// Reader：未显式给出 extensions 时沿用编解码器可处理的扩展名
	rraw, err := withDefaults(cfg.Options.Reader, map[string]any{"extensions": exts}, false)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader options: %w", err)
	}
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	r, err := registry.Reader[rn](rraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader %q options: %w", rn, err)
	}

	// Writer：顶层 output_dir/prefix 优先
	top := map[string]any{"output_dir": effName(strings.TrimSpace(cfg.OutputDir), d.OutputDir)}
	if cfg.Prefix != nil {
		top["prefix"] = *cfg.Prefix
	}
	wraw, err := withDefaults(cfg.Options.Writer, top, true)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer options: %w", err)
	}
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer %q options: %w", wn, err)
	}

	comp := pipeline.Components{Reader: r, Codecs: codecs, Writer: w}
	set := pipeline.Settings{
		Inputs:   cloneStrings(cfg.Inputs),
		Start:    *cfg.StartID,
		WrapKeys: cloneStrings(cfg.WrapKeys),
		Renumber: renumber.Options{
			IDField:   strings.TrimSpace(cfg.IDField),
			RefField:  strings.TrimSpace(cfg.RefField),
			Separator: cfg.Separator[0],
		},
		Preview: *cfg.Preview,
	}
	return comp, set, nil
}

// withDefaults 将 kv 合并进原样 JSON 对象：override=true 时覆盖已有键，否则仅补缺。
func withDefaults(raw json.RawMessage, kv map[string]any, override bool) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range kv {
		if _, exists := obj[k]; exists && !override {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = b
	}
	return json.Marshal(obj)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
