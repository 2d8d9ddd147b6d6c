package history

import (
	"context"
	"time"
)

// RevertRecord 一次 revert 的审计记录
// 与各命令的 reverted 标记在同一个事务里写入
type RevertRecord struct {
	Target  CommandID
	Cascade bool
	// Reverted 按实际执行顺序排列，最后一个是 Target
	Reverted []CommandID
	At       time.Time
}

// Log 是命令历史的持久化契约
type Log interface {
	// Append 追加一条已执行的命令
	Append(ctx context.Context, cmd *Command) error

	// Iterate 按 id 升序返回 id >= from 的命令；from 为零值时返回全部
	Iterate(ctx context.Context, from CommandID) ([]*Command, error)

	// MarkReverted 原子地标记 rec.Reverted 中的所有命令
	// 任一命令已被标记时整体失败 (ErrAlreadyReverted)
	MarkReverted(ctx context.Context, rec RevertRecord) error
}
