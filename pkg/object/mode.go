package object

import (
	"fmt"
	"io/fs"
	"strings"
)

// Owner 权限的归属方，数值是对应三位组的乘数
type Owner uint32

const (
	OwnerUser  Owner = 0o100
	OwnerGroup Owner = 0o010
	OwnerOther Owner = 0o001
)

// Permission 单个权限位
type Permission uint32

const (
	PermRead    Permission = 4
	PermWrite   Permission = 2
	PermExecute Permission = 1
)

var (
	owners      = [3]Owner{OwnerUser, OwnerGroup, OwnerOther}
	permissions = [3]Permission{PermRead, PermWrite, PermExecute}
	rwx         = "rwx"
)

// Mode 是 9 位的 Unix 权限集合 (例如 0o755)
type Mode uint32

// ParseMode 解析 "rwxr-xr-x" 形式的权限字符串
func ParseMode(s string) (Mode, error) {
	if len(s) != 9 {
		return 0, fmt.Errorf("invalid mode %q: expected 9 characters", s)
	}

	var m Mode
	for i := 0; i < 9; i++ {
		ch := s[i]
		if ch == '-' {
			continue
		}
		if ch != rwx[i%3] {
			return 0, fmt.Errorf("invalid mode %q: unexpected %q at position %d", s, ch, i)
		}
		m.Add(owners[i/3], permissions[i%3])
	}
	return m, nil
}

// ModeFromFileMode 提取 FileMode 的权限位
func ModeFromFileMode(fm fs.FileMode) Mode {
	return Mode(fm.Perm())
}

// Add 授予 owner 某个权限
func (m *Mode) Add(owner Owner, perm Permission) {
	*m |= Mode(uint32(owner) * uint32(perm))
}

// Remove 收回 owner 的某个权限
func (m *Mode) Remove(owner Owner, perm Permission) {
	*m &^= Mode(uint32(owner) * uint32(perm))
}

// Has 检查 owner 是否拥有某个权限
func (m Mode) Has(owner Owner, perm Permission) bool {
	bit := Mode(uint32(owner) * uint32(perm))
	return m&bit == bit
}

// FileMode 转换为标准库类型
func (m Mode) FileMode() fs.FileMode { return fs.FileMode(m & 0o777) }

// String 输出 "rwxr-xr-x" 形式
func (m Mode) String() string {
	var b strings.Builder
	for _, owner := range owners {
		for i, perm := range permissions {
			if m.Has(owner, perm) {
				b.WriteByte(rwx[i])
			} else {
				b.WriteByte('-')
			}
		}
	}
	return b.String()
}
