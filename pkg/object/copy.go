package object

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// CopyTo 把对象递归复制到目录 to 之下，保持原名
// 返回指向副本的新 Object；失败时不会留下半成品
func (o *Object) CopyTo(to string) (*Object, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	dest, err := o.destinationIn(to)
	if err != nil {
		return nil, err
	}

	if err := copyEntry(o.fs, o.path, dest, o.kind); err != nil {
		// 清理复制了一半的内容
		_ = o.fs.RemoveAll(dest)
		return nil, fmt.Errorf("failed to copy %s to %s: %w", o.path, dest, err)
	}

	return &Object{fs: o.fs, path: dest, kind: o.kind}, nil
}

func copyEntry(fsys afero.Fs, src, dst string, kind Kind) error {
	switch kind {
	case KindSymlink:
		target, err := Readlink(fsys, src)
		if err != nil {
			return err
		}
		return Symlink(fsys, target, dst)
	case KindDir:
		return copyDir(fsys, src, dst)
	default:
		return copyFile(fsys, src, dst)
	}
}

func copyFile(fsys afero.Fs, src, dst string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return err
	}

	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// umask 可能吃掉了部分权限位，显式恢复
	return fsys.Chmod(dst, info.Mode().Perm())
}

func copyDir(fsys afero.Fs, src, dst string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return err
	}
	if err := fsys.Mkdir(dst, 0o700); err != nil {
		return err
	}

	entries, err := afero.ReadDir(fsys, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		kind, err := KindOf(entry.Mode())
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Join(src, entry.Name()), err)
		}
		if err := copyEntry(fsys, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()), kind); err != nil {
			return err
		}
	}

	// 最后再设置目录权限，防止只读目录阻止子项写入
	return fsys.Chmod(dst, info.Mode().Perm())
}
