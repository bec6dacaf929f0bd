package contract

import "errors"

// 最小错误分类（哨兵）。调用方以 fmt.Errorf("...: %w") 附带上下文后上抛。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrParse: 输入内容不是良构的结构化数据。
	ErrParse = errors.New("parse error")
	// ErrSchema: 结构合法但不满足记录约定（缺少 id、形态不符等）。
	ErrSchema = errors.New("schema error")
	// ErrInvalidInput: 调用方参数或配置不合法（例如无可用编解码器）。
	ErrInvalidInput = errors.New("invalid input")
)
