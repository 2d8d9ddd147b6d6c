package storage

import (
	"context"
	"errors"
	"io"

	"fsundo/pkg/types"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrAmbiguousHash  = errors.New("ambiguous hash prefix")
	ErrPrefixTooShort = errors.New("hash prefix too short")
)

// MinPrefixLen ExpandHash 接受的最短前缀
const MinPrefixLen = 4

// Store defines the interface for a content-addressed storage backend.
// Implementations can be local disk, cloud storage, or a cache in front of either.
type Store interface {
	// Put 以 hash 为键持久化数据流
	// 幂等：键已存在时直接返回 nil，不会覆盖
	Put(ctx context.Context, hash types.Hash, r io.Reader) error

	// Get 根据 Hash 读取原始数据，不存在时返回 ErrNotFound
	// 返回 io.ReadCloser 以支持大文件流式读取
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// ExpandHash 把唯一的短前缀扩展为完整 Hash
	ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error)
}
