package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"fsundo/pkg/types"

	"github.com/spf13/afero"
)

// Digest 计算对象的内容指纹
//   - 文件: 字节内容的 SHA256
//   - 符号链接: 链接目标字符串的 SHA256
//   - 目录: 按字典序遍历，依次喂入每个文件的内容与每个链接的目标
//
// 已知限制：目录指纹不包含路径，内容相同但布局不同的两棵树可能得到相同的指纹。
func (o *Object) Digest() (types.Digest, error) {
	h := sha256.New()

	var err error
	switch o.kind {
	case KindFile:
		err = hashFile(o.fs, o.path, h)
	case KindSymlink:
		err = hashLink(o.fs, o.path, h)
	case KindDir:
		err = hashDir(o.fs, o.path, h)
	}
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", o.path, err)
	}

	return types.Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// DigestPath 打开 path 并计算指纹
func DigestPath(fsys afero.Fs, path string) (Kind, types.Digest, error) {
	obj, err := OpenExisting(fsys, path)
	if err != nil {
		return "", "", err
	}
	d, err := obj.Digest()
	return obj.Kind(), d, err
}

func hashFile(fsys afero.Fs, path string, h hash.Hash) error {
	f, err := fsys.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(h, f)
	return err
}

func hashLink(fsys afero.Fs, path string, h hash.Hash) error {
	target, err := Readlink(fsys, path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(h, target)
	return err
}

func hashDir(fsys afero.Fs, root string, h hash.Hash) error {
	// afero.Walk 按文件名排序遍历，保证结果确定
	return afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		kind, err := KindOf(info.Mode())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		switch kind {
		case KindFile:
			return hashFile(fsys, path, h)
		case KindSymlink:
			return hashLink(fsys, path, h)
		}
		return nil
	})
}
