package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的持久化工件标识（语义别名）。
type ArtifactID = FileID

// Writer: 将编码后的集合持久化到目标介质。
// 约束：
//  1. 目标位置仅由 ArtifactID 推导（Target 与 Write 一致）；
//  2. 已存在的目标直接覆盖，不提示；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
	// Target 返回 id 对应的落盘路径（用于进度与汇总输出）。
	Target(id ArtifactID) (string, error)
}
