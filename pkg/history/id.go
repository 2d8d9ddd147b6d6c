package history

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandID 命令的唯一标识 (UUIDv7)
// 前 48 位是毫秒时间戳，同一进程内严格单调递增，
// 所以字节序 = 构造顺序，可以直接用来比较先后
type CommandID uuid.UUID

// NewCommandID 生成一个新的 id
func NewCommandID() (CommandID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return CommandID{}, fmt.Errorf("failed to generate command id: %w", err)
	}
	return CommandID(u), nil
}

// ParseCommandID 解析完整的 UUID 字符串
func ParseCommandID(s string) (CommandID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CommandID{}, fmt.Errorf("invalid command id %q: %w", s, err)
	}
	return CommandID(u), nil
}

func (id CommandID) String() string { return uuid.UUID(id).String() }

// Short 返回末尾 12 位 (随机部分)，用于 CLI 和日志
// 前缀是时间戳，相近时间创建的命令前几位都相同，不适合做短 id
func (id CommandID) Short() string {
	s := id.String()
	return s[len(s)-12:]
}

func (id CommandID) IsZero() bool { return id == CommandID{} }

// Compare 按字节序比较：-1 表示 id 更早
func (id CommandID) Compare(other CommandID) int {
	return bytes.Compare(id[:], other[:])
}

func (id CommandID) Less(other CommandID) bool { return id.Compare(other) < 0 }

// Time 返回 id 中编码的创建时间 (毫秒精度)
func (id CommandID) Time() time.Time {
	sec, nsec := uuid.UUID(id).Time().UnixTime()
	return time.Unix(sec, nsec)
}

func (id CommandID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *CommandID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = CommandID(u)
	return nil
}
