package disk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fsundo/pkg/storage"
	"fsundo/pkg/types"

	"github.com/klauspost/compress/zstd"
)

// Compression 落盘时使用的压缩方式
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// 每个对象文件的第一个字节标记编码方式
// 读取时以文件自身的标记为准，所以修改配置不会影响已有对象
const (
	codecRaw  byte = 0x00
	codecZstd byte = 0x01
)

const tempPrefix = "temp-"

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath    string // 比如: /home/user/.fsu/objects
	compression Compression
}

// Option 配置 Adapter
type Option func(*Adapter)

// WithCompression 设置新写入对象的压缩方式
func WithCompression(c Compression) Option {
	return func(a *Adapter) { a.compression = c }
}

// ParseCompression 解析配置值，空字符串视为 none
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none or zstd)", s)
	}
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string, opts ...Option) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	a := &Adapter{rootPath: root, compression: CompressionNone}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// layout 返回哈希对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: hash "aabbcc..." -> root/aa/bbcc...
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

func (s *Adapter) Put(ctx context.Context, hash types.Hash, r io.Reader) error {
	if !hash.IsValid() {
		return fmt.Errorf("invalid object hash %q", hash)
	}
	targetPath := s.layout(hash)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 3. 原子写入：先写临时文件再 Rename
	// 要么文件不存在，要么文件是完整的
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if err := s.encode(tempFile, r); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write object %s: %w", hash.Short(), err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}

	// 4. 移动到最终位置
	return os.Rename(tempFile.Name(), targetPath)
}

func (s *Adapter) encode(w io.Writer, r io.Reader) error {
	if s.compression != CompressionZstd {
		if _, err := w.Write([]byte{codecRaw}); err != nil {
			return err
		}
		_, err := io.Copy(w, r)
		return err
	}

	if _, err := w.Write([]byte{codecZstd}); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.layout(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	codec, err := br.ReadByte()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("corrupted object %s: %w", hash.Short(), err)
	}

	switch codec {
	case codecRaw:
		return &readCloser{Reader: br, close: f.Close}, nil
	case codecZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &readCloser{Reader: dec, close: func() error {
			dec.Close()
			return f.Close()
		}}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("corrupted object %s: unknown codec 0x%02x", hash.Short(), codec)
	}
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := os.Stat(s.layout(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ExpandHash 在分片目录里按前缀查找
func (s *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	p := strings.ToLower(string(prefix))
	if len(p) < storage.MinPrefixLen {
		return "", storage.ErrPrefixTooShort
	}

	entries, err := os.ReadDir(filepath.Join(s.rootPath, p[:2]))
	if errors.Is(err, os.ErrNotExist) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	var found types.Hash
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, tempPrefix) || !strings.HasPrefix(name, p[2:]) {
			continue
		}
		if found != "" {
			return "", storage.ErrAmbiguousHash
		}
		found = types.Hash(p[:2] + name)
	}
	if found == "" {
		return "", storage.ErrNotFound
	}
	return found, nil
}

// readCloser 把解码器和底层文件的关闭合并
type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }
