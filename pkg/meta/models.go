package meta

import (
	"time"

	"gorm.io/datatypes"
)

// CommandModel 是 history.Command 在关系型数据库中的投影
// 主键是 UUIDv7 的字符串形式，字典序即创建顺序，可以直接 ORDER BY id
type CommandModel struct {
	ID          string `gorm:"primaryKey;type:char(36)"`
	Kind        string `gorm:"index;type:varchar(16);not null"`
	ObjectKind  string `gorm:"type:varchar(16);not null"`
	Source      string `gorm:"type:text;not null"`
	Destination string `gorm:"type:text"`

	Digest string `gorm:"type:char(64)"`
	Mode   uint32
	Size   int64

	Overwrite bool
	// 快照 id，还原时从 Store 里取
	Backup    string `gorm:"type:char(64)"`
	Displaced string `gorm:"type:char(64)"`

	Reverted   bool `gorm:"index;not null;default:false"`
	CreatedAt  time.Time
	RevertedAt *time.Time
}

func (CommandModel) TableName() string {
	return "commands"
}

// RevertModel 一次撤销操作的审计记录
// 与 commands.reverted 在同一个事务里写入
type RevertModel struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TargetID string `gorm:"index;type:char(36);not null"`
	Cascade  bool

	// Reverted: 实际撤销的命令 id，按执行顺序 ["id3", "id2", "id1"]
	Reverted datatypes.JSON

	At time.Time `gorm:"index"`
}

func (RevertModel) TableName() string {
	return "reverts"
}
