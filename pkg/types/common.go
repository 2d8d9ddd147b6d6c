// pkg/types/common.go
package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash 代表内容仓库 (Store) 中对象的唯一标识符 (SHA256 Hex String)
// Blob、Tree、Snapshot 都用它寻址
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return isHex64(string(h)) }

// Short 返回前 8 位，用于日志和 CLI 输出
func (h Hash) Short() string { return short(string(h)) }

// Digest 是文件系统对象的内容指纹
// 文件: 字节内容的 SHA256；目录: 递归内容的聚合 SHA256
// 它只用来比较 "同一个对象前后是否变化"，不用于寻址
type Digest string

func (d Digest) String() string { return string(d) }
func (d Digest) IsZero() bool   { return d == "" }
func (d Digest) IsValid() bool  { return isHex64(string(d)) }
func (d Digest) Short() string  { return short(string(d)) }

// ToHash 显式转换：单个文件的 Digest 恰好等于它在 Store 里的 Blob Hash
func (d Digest) ToHash() Hash { return Hash(d) }

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// SumBytes 计算一段数据的 SHA256
func SumBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
