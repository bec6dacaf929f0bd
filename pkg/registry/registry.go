package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/gianlucaricaldone/lirya-script/pkg/contract"
	cjson "github.com/gianlucaricaldone/lirya-script/plugins/codec/jsonfile"
	cyaml "github.com/gianlucaricaldone/lirya-script/plugins/codec/yamlfile"
	rfs "github.com/gianlucaricaldone/lirya-script/plugins/reader/filesystem"
	wfs "github.com/gianlucaricaldone/lirya-script/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewCodec 工厂签名：接收原样 JSON Options。
type NewCodec func(raw json.RawMessage) (contract.Codec, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录 Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Codec 工厂注册表；按扩展名选择时遍历 CodecNames()。
var Codec = map[string]NewCodec{
	// json: 保序 JSON（两空格缩进、非 ASCII 原样）
	"json": func(raw json.RawMessage) (contract.Codec, error) {
		var opts cjson.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cjson.New(&opts), nil
	},
	// yaml: yaml.v3 节点树
	"yaml": func(raw json.RawMessage) (contract.Codec, error) {
		var opts cyaml.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cyaml.New(&opts), nil
	},
}

// CodecNames 返回已注册编解码器名称（字典序）。
func CodecNames() []string {
	names := make([]string, 0, len(Codec))
	for n := range Codec {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（前缀命名、原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
