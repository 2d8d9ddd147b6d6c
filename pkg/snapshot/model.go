package snapshot

import (
	"fsundo/pkg/object"
	"fsundo/pkg/types"
)

// 对象类型标记，解码时用于防御性检查
const (
	typeTree     = "tree"
	typeSnapshot = "snapshot"
)

// Entry 目录中的一个子项
//   - 文件: Ref 指向 blob (文件内容，以 SHA256 寻址)
//   - 目录: Ref 指向 Tree
//   - 符号链接: Ref 为空，Target 记录链接目标
type Entry struct {
	Name   string      `cbor:"n"`
	Kind   object.Kind `cbor:"k"`
	Mode   object.Mode `cbor:"m"`
	Ref    *Link       `cbor:"h,omitempty"`
	Target string      `cbor:"l,omitempty"`
	Size   int64       `cbor:"s"`
}

// Tree 一个目录的完整内容，Entries 按名字排序
type Tree struct {
	TypeVal string  `cbor:"t"`
	Entries []Entry `cbor:"e"`
}

// Snapshot 一次捕获的根节点
// 它的 Hash 就是快照 id，记录在 Command.Backup 中
type Snapshot struct {
	TypeVal string       `cbor:"t"`
	Kind    object.Kind  `cbor:"k"`
	Mode    object.Mode  `cbor:"m"`
	Ref     *Link        `cbor:"h,omitempty"`
	Target  string       `cbor:"l,omitempty"`
	Size    int64        `cbor:"s"`
	Digest  types.Digest `cbor:"d"`
}
